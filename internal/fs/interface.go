package fs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PathSeparator 统一使用 "/" 作为分隔符，文件夹的 Key 以它结尾
const PathSeparator = "/"

var (
	// ErrMissingModTime 非文件夹实体既没有客户端修改时间也没有服务端修改时间
	ErrMissingModTime = errors.New("entity has no modified time")
	// ErrNotExist Stat/Read 的目标不存在
	ErrNotExist = errors.New("entity does not exist")
)

// Entity 某个路径在某一侧 (本地 / 云端 / 上次同步) 的元数据
// 时间字段为零值表示"不存在"
type Entity struct {
	Key                string    `json:"key"`  // 相对路径，文件夹以 "/" 结尾
	Size               int64     `json:"size"` // 文件大小 (字节)
	CreatedTimeClient  time.Time `json:"ctime_client,omitempty"`
	ModifiedTimeClient time.Time `json:"mtime_client,omitempty"`
	ModifiedTimeServer time.Time `json:"mtime_server,omitempty"`
	ContentTag         string    `json:"content_tag,omitempty"` // 例如 S3 的 ETag
	SynthesizedFolder  bool      `json:"synthesized_folder,omitempty"`
}

// NewEntity 构造并校验实体
func NewEntity(e Entity) (Entity, error) {
	if err := e.Validate(); err != nil {
		return Entity{}, err
	}
	return e, nil
}

// Validate 非文件夹实体必须至少带有一个修改时间
func (e Entity) Validate() error {
	if e.Key == "" {
		return fmt.Errorf("entity with empty key")
	}
	if !e.IsFolder() && e.ModifiedTimeClient.IsZero() && e.ModifiedTimeServer.IsZero() {
		return fmt.Errorf("%w: %s", ErrMissingModTime, e.Key)
	}
	return nil
}

// IsFolder 根据 Key 是否以分隔符结尾判断
func (e Entity) IsFolder() bool {
	return IsFolderKey(e.Key)
}

// ModTime 优先返回客户端修改时间，没有则回退到服务端修改时间
func (e Entity) ModTime() time.Time {
	if !e.ModifiedTimeClient.IsZero() {
		return e.ModifiedTimeClient
	}
	return e.ModifiedTimeServer
}

// Normalize 把所有时间截断到毫秒，这是核心使用的统一精度
func (e Entity) Normalize() Entity {
	e.CreatedTimeClient = truncateMillis(e.CreatedTimeClient)
	e.ModifiedTimeClient = truncateMillis(e.ModifiedTimeClient)
	e.ModifiedTimeServer = truncateMillis(e.ModifiedTimeServer)
	return e
}

func truncateMillis(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.Truncate(time.Millisecond)
}

func IsFolderKey(key string) bool {
	return strings.HasSuffix(key, PathSeparator)
}

// Depth 返回路径层级: "a/" -> 1, "a/b/" -> 2, "a/b/c.txt" -> 3
func Depth(key string) int {
	trimmed := strings.Trim(key, PathSeparator)
	if trimmed == "" {
		return 0
	}
	return strings.Count(trimmed, PathSeparator) + 1
}

// DirectoryLevels 返回 key 的所有祖先目录 (带结尾分隔符)
// "a/b/c.txt" -> ["a/", "a/b/"]，"a/b/" -> ["a/"]
func DirectoryLevels(key string) []string {
	parts := strings.Split(strings.TrimSuffix(key, PathSeparator), PathSeparator)
	levels := make([]string, 0, len(parts))
	for i := 1; i < len(parts); i++ {
		dir := strings.Join(parts[:i], PathSeparator)
		if dir == "" {
			continue
		}
		levels = append(levels, dir+PathSeparator)
	}
	return levels
}

// FileSystem 是对本地磁盘和远程对象存储的统一抽象
// 核心逻辑只依赖这一组能力，从不关心具体是哪种后端
type FileSystem interface {
	// Root 返回该文件系统的根 (用于日志或调试)
	Root() string

	// Walk 递归列出所有实体
	Walk(ctx context.Context) ([]Entity, error)

	// WalkPartial 只列出一小部分，用于连通性探测
	WalkPartial(ctx context.Context) ([]Entity, error)

	// Stat 获取单个实体信息，不存在时返回 ErrNotExist
	Stat(ctx context.Context, key string) (Entity, error)

	// Mkdir 创建目录 (以及所有父目录)
	Mkdir(ctx context.Context, key string, mtime, ctime time.Time) (Entity, error)

	// Write 写入文件，返回写入后目标侧报告的实体快照
	Write(ctx context.Context, key string, data []byte, mtime, ctime time.Time) (Entity, error)

	// Read 读取整个文件
	Read(ctx context.Context, key string) ([]byte, error)

	// Remove 删除文件或目录
	Remove(ctx context.Context, key string) error

	// TestConnection 测试该存储是否可用
	TestConnection(ctx context.Context) (bool, error)
}
