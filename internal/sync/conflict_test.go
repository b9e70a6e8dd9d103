package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"vaultsync/internal/fs"
)

func TestResolver_LastWriteWins(t *testing.T) {
	r := NewResolver(StrategyLastWriteWins, nil)

	action, _ := r.Resolve(*file("c.md", 20, 5000), *file("c.md", 25, 9000))
	assert.Equal(t, ActionDownload, action)

	// 容忍度内本地胜出
	action, _ = r.Resolve(*file("c.md", 20, 7001), *file("c.md", 25, 9000))
	assert.Equal(t, ActionUpload, action)
	action, _ = r.Resolve(*file("c.md", 20, 7000), *file("c.md", 25, 9000))
	assert.Equal(t, ActionDownload, action)

	// 云端没有时间时使用默认参考值 3000ms
	noTime := fs.Entity{Key: "c.md", Size: 1}
	action, _ = r.Resolve(*file("c.md", 1, 1001), noTime)
	assert.Equal(t, ActionUpload, action)
	action, _ = r.Resolve(*file("c.md", 1, 1000), noTime)
	assert.Equal(t, ActionDownload, action)
}

func TestResolver_Folders(t *testing.T) {
	for _, s := range []ConflictStrategy{StrategyLastWriteWins, StrategyMerge, StrategyCreateConflictFile} {
		action, _ := NewResolver(s, nil).Resolve(*folder("d/"), *folder("d/"))
		assert.Equal(t, ActionNoOp, action, s)
	}
}

func TestResolver_Merge(t *testing.T) {
	r := NewResolver(StrategyMerge, []string{".MD", ".txt"})

	action, _ := r.Resolve(*file("a.md", 1, 1000), *file("a.md", 2, 9000))
	assert.Equal(t, ActionMerge, action)

	// 不可合并的类型回退到 last_write_wins
	action, reason := r.Resolve(*file("a.png", 1, 1000), *file("a.png", 2, 9000))
	assert.Equal(t, ActionDownload, action)
	assert.Contains(t, reason, "merge fallback")

	assert.True(t, r.Mergeable("notes/A.TXT"))
	assert.False(t, r.Mergeable("notes.md/"))
}

func TestResolver_CreateConflictFile(t *testing.T) {
	action, _ := NewResolver(StrategyCreateConflictFile, nil).Resolve(*file("a.png", 1, 1000), *file("a.png", 2, 9000))
	assert.Equal(t, ActionCreateConflictFile, action)
}

func TestConflictFileName(t *testing.T) {
	ts := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)

	assert.Equal(t, "notes/a.sync-conflict-20240102-150405.md", ConflictFileName("notes/a.md", ts))
	assert.Equal(t, "README.sync-conflict-20240102-150405", ConflictFileName("README", ts))
	assert.Equal(t, "v1.2/notes.sync-conflict-20240102-150405", ConflictFileName("v1.2/notes", ts))
	assert.Equal(t, "a.tar.sync-conflict-20240102-150405.gz", ConflictFileName("a.tar.gz", ts))
	assert.Equal(t, ".env.sync-conflict-20240102-150405", ConflictFileName(".env", ts))
}

func TestMerge(t *testing.T) {
	base := []byte("line one\nline two\nline three\n")
	remote := []byte("line one\nline two changed remotely\nline three\n")
	local := []byte("line zero\nline one\nline two\nline three\n")

	merged, clean := Merge(base, remote, local)
	assert.True(t, clean)
	assert.Equal(t, "line zero\nline one\nline two changed remotely\nline three\n", string(merged))

	// 本地已经完全改写，补丁无法应用
	unrelated := []byte("0123456789\n9876543210\n")
	merged, clean = Merge(base, remote, unrelated)
	assert.False(t, clean)
	assert.Equal(t, string(unrelated), string(merged))

	// 云端没有变化时原样保留本地
	merged, clean = Merge(base, base, local)
	assert.True(t, clean)
	assert.Equal(t, string(local), string(merged))
}
