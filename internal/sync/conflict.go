package sync

import (
	"path"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sergi/go-diff/diffmatchpatch"

	"vaultsync/internal/fs"
)

type ConflictStrategy string

const (
	// StrategyLastWriteWins (默认)：修改时间较新的一侧胜出，平局时本地胜出
	StrategyLastWriteWins ConflictStrategy = "last_write_wins"
	// StrategyMerge：可合并的文本文件做三方合并，其余回退到 last_write_wins
	StrategyMerge ConflictStrategy = "merge"
	// StrategyCreateConflictFile：两个版本都保留，由用户手动处理
	StrategyCreateConflictFile ConflictStrategy = "create_conflict_file"
)

// MTimeTolerance 客户端与服务端之间时钟/精度误差的容忍度
const MTimeTolerance = 2000 * time.Millisecond

// 差异片段超过这个数量才做语义清理
const diffCleanupThreshold = 2

// defaultRemoteReference 云端没有任何修改时间时使用的参考值
var defaultRemoteReference = time.UnixMilli(3000)

// Resolver 处理两侧都发生变化 (或都存在但没有基准) 的路径
type Resolver struct {
	Strategy            ConflictStrategy
	MergeableExtensions mapset.Set[string]
}

// NewResolver mergeable 为空时使用 .md 和 .txt
func NewResolver(strategy ConflictStrategy, mergeable []string) *Resolver {
	if strategy == "" {
		strategy = StrategyLastWriteWins
	}
	if len(mergeable) == 0 {
		mergeable = []string{".md", ".txt"}
	}
	exts := mapset.NewSet[string]()
	for _, ext := range mergeable {
		exts.Add(strings.ToLower(ext))
	}
	return &Resolver{Strategy: strategy, MergeableExtensions: exts}
}

// Mergeable 判断 key 是否属于可合并的文本类型
func (r *Resolver) Mergeable(key string) bool {
	if r.MergeableExtensions == nil || fs.IsFolderKey(key) {
		return false
	}
	return r.MergeableExtensions.Contains(strings.ToLower(path.Ext(key)))
}

// Resolve 返回冲突的具体处理方式以及原因
func (r *Resolver) Resolve(local, remote fs.Entity) (Action, string) {
	if local.IsFolder() || remote.IsFolder() {
		return ActionNoOp, "nothing to do on folder conflict"
	}

	switch r.Strategy {
	case StrategyCreateConflictFile:
		return ActionCreateConflictFile, "conflict detected, creating conflict file"
	case StrategyMerge:
		if r.Mergeable(local.Key) {
			return ActionMerge, "conflict detected, attempting merge"
		}
		action, reason := lastWriteWins(local, remote)
		return action, reason + " (merge fallback)"
	default:
		return lastWriteWins(local, remote)
	}
}

// lastWriteWins 本地时间 > 云端时间 - 容忍度 时上传，否则下载
func lastWriteWins(local, remote fs.Entity) (Action, string) {
	remoteRef := remote.ModTime()
	if remoteRef.IsZero() {
		remoteRef = defaultRemoteReference
	}
	if local.ModTime().After(remoteRef.Add(-MTimeTolerance)) {
		return ActionUpload, "local file is newer"
	}
	return ActionDownload, "remote file is newer"
}

// ConflictFileName 生成冲突副本的名字: "dir/name.sync-conflict-20240102-150405.md"
// 没有扩展名时直接追加后缀，目录名中的 "." 不算扩展名
func ConflictFileName(key string, t time.Time) string {
	dir, base := path.Split(key)
	ext := path.Ext(base)
	name := strings.TrimSuffix(base, ext)
	if name == "" {
		// ".gitignore" 这类文件整个名字都是主干
		name, ext = base, ""
	}
	return dir + name + ".sync-conflict-" + t.Format("20060102-150405") + ext
}

// Merge 用 base -> remote 的补丁去修改 local
// 只有所有补丁都成功应用时 clean 才为 true
func Merge(base, remote, local []byte) (merged []byte, clean bool) {
	dmp := diffmatchpatch.New()

	diffs := dmp.DiffMain(string(base), string(remote), true)
	if len(diffs) > diffCleanupThreshold {
		diffs = dmp.DiffCleanupSemantic(diffs)
		diffs = dmp.DiffCleanupEfficiency(diffs)
	}
	patches := dmp.PatchMake(string(base), diffs)

	text, applied := dmp.PatchApply(patches, string(local))
	clean = true
	for _, ok := range applied {
		if !ok {
			clean = false
			break
		}
	}
	return []byte(text), clean
}
