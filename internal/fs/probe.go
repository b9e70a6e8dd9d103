package fs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ProbeReadWrite 通用的连通性测试:
// 建目录 -> 写文件 -> 覆盖写 -> 读回比对 -> 删文件 -> 删目录
// 任何一步失败都返回 false 和对应错误
func ProbeReadWrite(ctx context.Context, fsys FileSystem) (bool, error) {
	dirName := fmt.Sprintf("vaultsync-test-dir-%s/", uuid.NewString())
	filePath := fmt.Sprintf("%svaultsync-test-file-%s", dirName, uuid.NewString())

	slog.Debug("连通性测试: 创建目录", "root", fsys.Root(), "dir", dirName)
	if _, err := fsys.Mkdir(ctx, dirName, time.Now(), time.Now()); err != nil {
		return false, fmt.Errorf("probe mkdir: %w", err)
	}

	ctime := time.Now()
	if _, err := fsys.Write(ctx, filePath, make([]byte, 100), time.Now(), ctime); err != nil {
		return false, fmt.Errorf("probe write: %w", err)
	}

	content := bytes.Repeat([]byte{0x5a}, 200)
	if _, err := fsys.Write(ctx, filePath, content, time.Now(), ctime); err != nil {
		return false, fmt.Errorf("probe overwrite: %w", err)
	}

	got, err := fsys.Read(ctx, filePath)
	if err != nil {
		return false, fmt.Errorf("probe read: %w", err)
	}
	if !bytes.Equal(got, content) {
		return false, fmt.Errorf("probe read: downloaded content differs from uploaded content")
	}

	if err := fsys.Remove(ctx, filePath); err != nil {
		return false, fmt.Errorf("probe remove file: %w", err)
	}
	if err := fsys.Remove(ctx, dirName); err != nil {
		return false, fmt.Errorf("probe remove dir: %w", err)
	}
	return true, nil
}
