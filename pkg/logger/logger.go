package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// ParseLevel "debug", "info", "warn", "error"，无法识别时返回 info
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup 初始化全局日志配置
// 控制台使用 tint 彩色输出；logPath 不为空时额外以文本格式追加写入文件
func Setup(levelStr string, logPath string) error {
	level := ParseLevel(levelStr)
	// 仅在 Debug 模式下显示文件名和行号
	addSource := level == slog.LevelDebug

	handlers := []slog.Handler{
		tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			AddSource:  addSource,
			TimeFormat: time.DateTime,
			NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
		}),
	}

	if logPath != "" {
		// 确保日志目录存在
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return err
		}

		// 打开日志文件 (追加模式)，进程退出时由系统关闭
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		handlers = append(handlers, slog.NewTextHandler(file, &slog.HandlerOptions{
			Level:     level,
			AddSource: addSource,
		}))
	}

	var handler slog.Handler = handlers[0]
	if len(handlers) > 1 {
		handler = NewMultiHandler(handlers...)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
