package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"vaultsync/internal/fs"
)

// Adapter 本地文件系统适配器 (基于 go-billy 的 osfs)
type Adapter struct {
	rootDir  string // 本地绝对路径根目录
	fs       billy.Filesystem
	trashDir string // 相对 rootDir，空表示直接删除
	now      func() time.Time
}

// Option 适配器可选项
type Option func(*Adapter)

// WithTrash 删除时把文件移动到 rootDir 下的 dir 目录，扫描时跳过该目录
func WithTrash(dir string) Option {
	return func(a *Adapter) {
		a.trashDir = strings.Trim(filepath.ToSlash(dir), fs.PathSeparator)
	}
}

// NewAdapter 创建一个新的本地适配器
func NewAdapter(rootDir string, opts ...Option) *Adapter {
	// 确保 rootDir 是绝对路径
	absDir, err := filepath.Abs(rootDir)
	if err != nil {
		absDir = rootDir
	}
	a := &Adapter{rootDir: absDir, fs: osfs.New(absDir), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Root 返回根目录
func (a *Adapter) Root() string {
	return a.rootDir
}

// toSysPath 将统一的 key 转换为 billy 内的相对路径
// 输入: "docs/file.txt" -> 输出 (Windows): "docs\file.txt"
func toSysPath(key string) string {
	return filepath.FromSlash(strings.TrimSuffix(key, fs.PathSeparator))
}

// toKey 将 billy 内的路径转换为统一 key，目录追加 "/"
func toKey(sysPath string, isDir bool) string {
	key := filepath.ToSlash(sysPath)
	key = strings.TrimPrefix(key, "./")
	if isDir {
		key += fs.PathSeparator
	}
	return key
}

func (a *Adapter) toEntity(key string, info os.FileInfo) (fs.Entity, error) {
	if info.IsDir() {
		return fs.Entity{Key: key}, nil
	}
	mtime := info.ModTime()
	if mtime.IsZero() || mtime.Unix() <= 0 {
		return fs.Entity{}, fmt.Errorf("%w: %s has last modified time %v", fs.ErrMissingModTime, key, mtime)
	}
	return fs.NewEntity(fs.Entity{
		Key:                key,
		Size:               info.Size(),
		ModifiedTimeClient: mtime,
		ModifiedTimeServer: mtime,
	})
}

// Walk 递归扫描本地目录
func (a *Adapter) Walk(_ context.Context) ([]fs.Entity, error) {
	var entities []fs.Entity
	var errs []error

	err := util.Walk(a.fs, ".", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			errs = append(errs, fmt.Errorf("扫描文件出错 %s: %w", path, err))
			return nil
		}
		// 跳过根目录本身
		if path == "." || path == "" {
			return nil
		}
		if a.inTrash(path) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		entity, err := a.toEntity(toKey(path, info.IsDir()), info)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		entities = append(entities, entity)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%d errors occurred during file scan: %w", len(errs), errors.Join(errs...))
	}
	return entities, nil
}

// WalkPartial 本地扫描代价很低，直接复用 Walk
func (a *Adapter) WalkPartial(ctx context.Context) ([]fs.Entity, error) {
	return a.Walk(ctx)
}

// Stat 获取单个文件状态
func (a *Adapter) Stat(_ context.Context, key string) (fs.Entity, error) {
	info, err := a.fs.Stat(toSysPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return fs.Entity{}, fmt.Errorf("%w: %s", fs.ErrNotExist, key)
		}
		return fs.Entity{}, fmt.Errorf("stat %s: %w", key, err)
	}
	return a.toEntity(toKey(toSysPath(key), info.IsDir()), info)
}

// Mkdir 创建目录以及所有父目录
func (a *Adapter) Mkdir(ctx context.Context, key string, _, _ time.Time) (fs.Entity, error) {
	if err := a.fs.MkdirAll(toSysPath(key), 0755); err != nil {
		return fs.Entity{}, fmt.Errorf("创建目录失败 %s: %w", key, err)
	}
	return a.Stat(ctx, key)
}

// Write 写入文件并恢复修改时间 (双向同步依赖这个时间)
func (a *Adapter) Write(ctx context.Context, key string, data []byte, mtime, _ time.Time) (fs.Entity, error) {
	sysPath := toSysPath(key)

	// 1. 确保父目录存在
	if dir := filepath.Dir(sysPath); dir != "." {
		if err := a.fs.MkdirAll(dir, 0755); err != nil {
			return fs.Entity{}, fmt.Errorf("创建目录失败: %w", err)
		}
	}

	// 2. 写入数据
	if err := util.WriteFile(a.fs, sysPath, data, 0644); err != nil {
		return fs.Entity{}, fmt.Errorf("写入数据失败 %s: %w", key, err)
	}

	// 3. 恢复修改时间
	if !mtime.IsZero() {
		if err := a.chtimes(sysPath, mtime); err != nil {
			slog.Warn("无法修改文件时间", "path", key, "err", err)
		}
	}

	return a.Stat(ctx, key)
}

// chtimes billy 的 osfs 不一定实现 billy.Change，此时直接落到系统调用
func (a *Adapter) chtimes(sysPath string, mtime time.Time) error {
	if ch, ok := a.fs.(billy.Change); ok {
		return ch.Chtimes(sysPath, time.Now(), mtime)
	}
	return os.Chtimes(filepath.Join(a.rootDir, sysPath), time.Now(), mtime)
}

// Read 读取整个文件
func (a *Adapter) Read(_ context.Context, key string) ([]byte, error) {
	data, err := util.ReadFile(a.fs, toSysPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", fs.ErrNotExist, key)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Remove 删除本地文件或目录
// 配置了回收站时文件和非空目录被移动到回收站，空目录直接删除；否则递归删除
func (a *Adapter) Remove(_ context.Context, key string) error {
	sysPath := toSysPath(key)
	if a.trashDir == "" {
		if err := util.RemoveAll(a.fs, sysPath); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
		return nil
	}

	info, err := a.fs.Stat(sysPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("remove %s: %w", key, err)
	}
	if info.IsDir() {
		entries, err := a.fs.ReadDir(sysPath)
		if err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
		if len(entries) == 0 {
			if err := a.fs.Remove(sysPath); err != nil {
				return fmt.Errorf("remove %s: %w", key, err)
			}
			return nil
		}
	}
	return a.moveToTrash(key, sysPath)
}

// moveToTrash 保持相对路径移动到回收站，重名时追加时间戳
func (a *Adapter) moveToTrash(key, sysPath string) error {
	target := filepath.Join(toSysPath(a.trashDir), sysPath)
	if _, err := a.fs.Stat(target); err == nil {
		target += "." + a.now().Format("20060102-150405.000")
	}
	if err := a.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("创建回收站目录失败: %w", err)
	}
	if err := a.fs.Rename(sysPath, target); err != nil {
		return fmt.Errorf("move %s to trash: %w", key, err)
	}
	slog.Debug("已移动到回收站", "path", key, "trash", filepath.ToSlash(target))
	return nil
}

func (a *Adapter) inTrash(sysPath string) bool {
	if a.trashDir == "" {
		return false
	}
	p := filepath.ToSlash(sysPath)
	return p == a.trashDir || strings.HasPrefix(p, a.trashDir+fs.PathSeparator)
}

// TestConnection 在本地根目录上做一次读写探测
// 探测文件直接删除，不进回收站
func (a *Adapter) TestConnection(ctx context.Context) (bool, error) {
	probe := *a
	probe.trashDir = ""
	return fs.ProbeReadWrite(ctx, &probe)
}
