package sync

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	gosync "sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"vaultsync/internal/database"
	"vaultsync/internal/fs"
)

// StateStore previousSync 记录与合并基准的持久化，*database.DB 实现了它
type StateStore interface {
	ListAll() ([]*database.FileState, error)
	Put(state *database.FileState) error
	Delete(key string) error
	GetBase(key string) ([]byte, error)
	PutBase(key string, content []byte) error
}

// Result 一次执行的统计
type Result struct {
	Succeeded int
	Failed    int
	Skipped   int
	// 失败的路径 -> 错误
	Errors map[string]error
}

// ExecutorOptions 初始化选项
type ExecutorOptions struct {
	LocalFS    fs.FileSystem
	RemoteFS   fs.FileSystem
	StateDB    StateStore
	MaxWorkers int
	// Mergeable 为 true 的路径在同步后保存内容作为合并基准，nil 表示不保存
	Mergeable func(key string) bool
	// Now 用于冲突文件名和合并后的修改时间，测试中可替换
	Now func() time.Time
}

// Executor 按深度分层、有界并发地执行 Plan
type Executor struct {
	opts *ExecutorOptions
}

func NewExecutor(opts *ExecutorOptions) *Executor {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Executor{opts: opts}
}

// Execute 创建类操作从浅到深、删除类操作从深到浅，每一层执行完才进入下一层
// 单个操作失败只记录日志，不影响其他操作；调用方的 ctx 被取消后已排队的操作仍会执行完
func (e *Executor) Execute(ctx context.Context, plan Plan) Result {
	ctx = context.WithoutCancel(ctx)

	var creations, removals []*MixedEntity
	for _, key := range plan.Keys() {
		m := plan[key]
		if m.Action.IsCreation() {
			creations = append(creations, m)
		} else {
			removals = append(removals, m)
		}
	}

	res := Result{Errors: make(map[string]error)}
	var mu gosync.Mutex
	record := func(m *MixedEntity, skipped bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			res.Failed++
			res.Errors[m.Key] = err
		case skipped:
			res.Skipped++
		default:
			res.Succeeded++
		}
	}

	for _, level := range byDepth(creations, true) {
		e.runLevel(ctx, level, record)
	}
	for _, level := range byDepth(removals, false) {
		e.runLevel(ctx, level, record)
	}

	slog.Info("同步执行完成",
		"成功", res.Succeeded,
		"失败", res.Failed,
		"跳过", res.Skipped,
	)
	return res
}

// byDepth 按路径深度分组，ascending 决定层的顺序
func byDepth(entries []*MixedEntity, ascending bool) [][]*MixedEntity {
	groups := make(map[int][]*MixedEntity)
	for _, m := range entries {
		d := fs.Depth(m.Key)
		groups[d] = append(groups[d], m)
	}

	depths := make([]int, 0, len(groups))
	for d := range groups {
		depths = append(depths, d)
	}
	sort.Ints(depths)
	if !ascending {
		sort.Sort(sort.Reverse(sort.IntSlice(depths)))
	}

	levels := make([][]*MixedEntity, 0, len(depths))
	for _, d := range depths {
		levels = append(levels, groups[d])
	}
	return levels
}

func (e *Executor) runLevel(ctx context.Context, level []*MixedEntity, record func(*MixedEntity, bool, error)) {
	g := new(errgroup.Group)
	g.SetLimit(e.opts.MaxWorkers)

	for _, m := range level {
		g.Go(func() error {
			skipped, err := e.apply(ctx, m)
			if err != nil {
				slog.Error("[Worker] 任务失败",
					"path", m.Key,
					"action", m.Action,
					"reason", m.Reason,
					"err", err,
				)
			}
			record(m, skipped, err)
			// 返回 nil，避免一个失败影响同层其他任务
			return nil
		})
	}
	_ = g.Wait()
}

// apply 执行单个操作，skipped 表示没有任何副作用
func (e *Executor) apply(ctx context.Context, m *MixedEntity) (skipped bool, err error) {
	switch m.Action {
	case ActionUpload:
		return false, e.doUpload(ctx, m)
	case ActionDownload:
		return false, e.doDownload(ctx, m)
	case ActionDeleteLocal:
		if err := e.opts.LocalFS.Remove(ctx, m.Key); err != nil {
			return false, fmt.Errorf("delete local failed: %w", err)
		}
		return false, e.opts.StateDB.Delete(m.Key)
	case ActionDeleteRemote:
		if err := e.opts.RemoteFS.Remove(ctx, m.Key); err != nil {
			return false, fmt.Errorf("delete remote failed: %w", err)
		}
		return false, e.opts.StateDB.Delete(m.Key)
	case ActionDeletePreviousSync:
		return false, e.opts.StateDB.Delete(m.Key)
	case ActionMerge:
		return false, e.doMerge(ctx, m)
	case ActionCreateConflictFile:
		return false, e.doConflictFile(ctx, m)
	case ActionConflict:
		slog.Warn("未解决的冲突，跳过", "path", m.Key)
		return true, nil
	default:
		return true, nil
	}
}

// doUpload 上传流程：读取本地 -> 写入云端 -> 更新DB
func (e *Executor) doUpload(ctx context.Context, m *MixedEntity) error {
	local := m.Local
	if local == nil {
		return fmt.Errorf("upload %s: no local entity", m.Key)
	}

	if local.IsFolder() {
		snap, err := e.opts.RemoteFS.Mkdir(ctx, m.Key, local.ModTime(), local.CreatedTimeClient)
		if err != nil {
			return err
		}
		snap.ModifiedTimeClient = local.ModTime()
		return e.persist(snap, nil, false)
	}

	data, err := e.opts.LocalFS.Read(ctx, m.Key)
	if err != nil {
		return fmt.Errorf("read local failed: %w", err)
	}
	snap, err := e.opts.RemoteFS.Write(ctx, m.Key, data, local.ModTime(), local.CreatedTimeClient)
	if err != nil {
		return fmt.Errorf("write remote failed: %w", err)
	}

	slog.Info("上传完成", "path", m.Key, "size", humanize.IBytes(uint64(len(data))))
	// 以本地的客户端时间为基准，云端报告的 ETag 作为内容标签
	snap.ModifiedTimeClient = local.ModTime()
	snap.CreatedTimeClient = local.CreatedTimeClient
	return e.persist(snap, data, false)
}

// doDownload 下载流程：读取云端 -> 写入本地 (恢复修改时间) -> 更新DB
func (e *Executor) doDownload(ctx context.Context, m *MixedEntity) error {
	remote := m.Remote
	if remote == nil {
		return fmt.Errorf("download %s: no remote entity", m.Key)
	}

	if remote.IsFolder() {
		snap, err := e.opts.LocalFS.Mkdir(ctx, m.Key, remote.ModTime(), remote.CreatedTimeClient)
		if err != nil {
			return err
		}
		snap.ModifiedTimeServer = remote.ModifiedTimeServer
		return e.persist(snap, nil, false)
	}

	data, err := e.opts.RemoteFS.Read(ctx, m.Key)
	if err != nil {
		return fmt.Errorf("read remote failed: %w", err)
	}
	snap, err := e.opts.LocalFS.Write(ctx, m.Key, data, remote.ModTime(), remote.CreatedTimeClient)
	if err != nil {
		return fmt.Errorf("write local failed: %w", err)
	}

	slog.Info("下载完成", "path", m.Key, "size", humanize.IBytes(uint64(len(data))))
	// 本地不计算哈希，沿用云端的内容标签
	snap.ContentTag = remote.ContentTag
	snap.ModifiedTimeServer = remote.ModifiedTimeServer
	return e.persist(snap, data, false)
}

// doMerge 三方合并，结果同时写回两侧
func (e *Executor) doMerge(ctx context.Context, m *MixedEntity) error {
	localData, err := e.opts.LocalFS.Read(ctx, m.Key)
	if err != nil {
		return fmt.Errorf("read local failed: %w", err)
	}
	remoteData, err := e.opts.RemoteFS.Read(ctx, m.Key)
	if err != nil {
		return fmt.Errorf("read remote failed: %w", err)
	}
	base, err := e.opts.StateDB.GetBase(m.Key)
	if err != nil {
		return fmt.Errorf("read merge base failed: %w", err)
	}

	merged, clean := localData, true
	if !bytes.Equal(localData, remoteData) {
		if base == nil {
			// 没有共同祖先时三方合并会把两份内容拼在一起，改为保留两个版本
			slog.Warn("没有合并基准，改为创建冲突文件", "path", m.Key)
			return e.doConflictFile(ctx, m)
		}
		merged, clean = Merge(base, remoteData, localData)
	}
	if !clean {
		slog.Warn("合并结果不干净，请手动检查", "path", m.Key)
	}

	now := e.opts.Now()
	var ctime time.Time
	if m.Local != nil {
		ctime = m.Local.CreatedTimeClient
	}
	if _, err := e.opts.LocalFS.Write(ctx, m.Key, merged, now, ctime); err != nil {
		return fmt.Errorf("write local failed: %w", err)
	}
	snap, err := e.opts.RemoteFS.Write(ctx, m.Key, merged, now, ctime)
	if err != nil {
		return fmt.Errorf("write remote failed: %w", err)
	}

	slog.Info("合并完成", "path", m.Key, "clean", clean, "size", humanize.IBytes(uint64(len(merged))))
	snap.ModifiedTimeClient = now
	return e.persist(snap, merged, !clean)
}

// doConflictFile 云端版本另存为冲突文件 (两侧都写)，然后上传本地版本
func (e *Executor) doConflictFile(ctx context.Context, m *MixedEntity) error {
	remoteData, err := e.opts.RemoteFS.Read(ctx, m.Key)
	if err != nil {
		return fmt.Errorf("read remote failed: %w", err)
	}

	now := e.opts.Now()
	mtime, ctime := now, time.Time{}
	if m.Remote != nil {
		if t := m.Remote.ModTime(); !t.IsZero() {
			mtime = t
		}
		ctime = m.Remote.CreatedTimeClient
	}
	name := ConflictFileName(m.Key, now)
	localCopy, err := e.opts.LocalFS.Write(ctx, name, remoteData, mtime, ctime)
	if err != nil {
		return fmt.Errorf("write conflict file failed: %w", err)
	}
	// 冲突副本同时留在云端，云端版本不会只存在于这一台机器上
	remoteCopy, err := e.opts.RemoteFS.Write(ctx, name, remoteData, localCopy.ModTime(), ctime)
	if err != nil {
		return fmt.Errorf("write remote conflict file failed: %w", err)
	}
	remoteCopy.ModifiedTimeClient = localCopy.ModTime()
	remoteCopy.CreatedTimeClient = ctime
	if err := e.persist(remoteCopy, remoteData, false); err != nil {
		return err
	}
	slog.Warn("已创建冲突文件", "path", m.Key, "conflict", name)

	return e.doUpload(ctx, m)
}

// persist 保存操作后目标侧报告的快照
func (e *Executor) persist(snap fs.Entity, content []byte, unclean bool) error {
	state := &database.FileState{Entity: snap.Normalize(), MergeUnclean: unclean}
	if err := e.opts.StateDB.Put(state); err != nil {
		return fmt.Errorf("update state failed: %w", err)
	}

	if content != nil && e.opts.Mergeable != nil && e.opts.Mergeable(snap.Key) {
		if err := e.opts.StateDB.PutBase(snap.Key, content); err != nil {
			return fmt.Errorf("update merge base failed: %w", err)
		}
	}
	return nil
}
