package config

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 冲突策略
const (
	StrategyLastWriteWins      = "last_write_wins"
	StrategyMerge              = "merge"
	StrategyCreateConflictFile = "create_conflict_file"
)

// 一侧修改、另一侧删除时的处理方式
const (
	DeleteConflictResurrect = "resurrect" // 重新上传 / 下载，保留修改 (默认)
	DeleteConflictPropagate = "propagate" // 尊重删除
)

// Config 对应 config.yaml 的根结构
type Config struct {
	Sync          SyncConfig          `yaml:"sync"`
	SelectiveSync SelectiveSyncConfig `yaml:"selective_sync"`
	S3            S3Config            `yaml:"s3"`
	System        SystemConfig        `yaml:"system"`
}

// SyncConfig 同步相关配置
type SyncConfig struct {
	LocalDir      string `yaml:"local_dir"`
	Interval      string `yaml:"interval"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	// last_write_wins (默认): 修改时间较新的一侧胜出
	// merge: 对可合并的文本文件做三方合并，其余回退到 last_write_wins
	// create_conflict_file: 保留两个版本，云端版本另存为冲突文件
	ConflictStrategy    string   `yaml:"conflict_strategy"`
	MergeableExtensions []string `yaml:"mergeable_extensions"`
	// resurrect | propagate
	DeleteConflict string `yaml:"delete_conflict"`
	// 为 true 时，只要有单个操作失败，本轮同步就记为 ERROR
	FailOnOperationErrors bool `yaml:"fail_on_operation_errors"`
	// 本地删除先移动到 local_dir 下的这个目录，留空则直接删除
	TrashDir string `yaml:"trash_dir"`
	// 也就是解析后的 duration，不导出到 yaml
	IntervalDuration time.Duration `yaml:"-"`
}

// SelectiveSyncConfig 选择性同步，true 表示同步该类文件
type SelectiveSyncConfig struct {
	ImageFiles      bool        `yaml:"image_files"`
	AudioFiles      bool        `yaml:"audio_files"`
	VideoFiles      bool        `yaml:"video_files"`
	PDFFiles        bool        `yaml:"pdf_files"`
	OtherFiles      bool        `yaml:"other_files"`
	ExcludedFolders []string    `yaml:"excluded_folders"`
	IgnorePatterns  []string    `yaml:"ignore_patterns"`
	ConfigDir       string      `yaml:"config_dir"`
	Vault           VaultConfig `yaml:"vault"`
}

// VaultConfig 配置目录下各类设置文件是否同步
type VaultConfig struct {
	MainSettings            bool `yaml:"main_settings"`
	Appearance              bool `yaml:"appearance"`
	Themes                  bool `yaml:"themes"`
	Hotkeys                 bool `yaml:"hotkeys"`
	ActiveCorePlugins       bool `yaml:"active_core_plugins"`
	CorePluginSettings      bool `yaml:"core_plugin_settings"`
	ActiveCommunityPlugins  bool `yaml:"active_community_plugins"`
	CommunityPluginSettings bool `yaml:"community_plugin_settings"`
}

// S3Config 对象存储配置
type S3Config struct {
	Endpoint             string `yaml:"endpoint"`
	Region               string `yaml:"region"`
	Bucket               string `yaml:"bucket"`
	AccessKeyID          string `yaml:"access_key_id"`
	SecretAccessKey      string `yaml:"secret_access_key"`
	ForcePathStyle       bool   `yaml:"force_path_style"`
	RemotePrefix         string `yaml:"remote_prefix"`
	AccurateMTime        bool   `yaml:"accurate_mtime"`
	GenerateFolderObject bool   `yaml:"generate_folder_object"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Default 返回全部默认值，yaml 中缺省的字段保持这里的值
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			LocalDir:            "./vault",
			Interval:            "5m",
			MaxConcurrent:       5,
			ConflictStrategy:    StrategyLastWriteWins,
			MergeableExtensions: []string{".md", ".txt"},
			DeleteConflict:      DeleteConflictResurrect,
			TrashDir:            ".trash",
		},
		SelectiveSync: SelectiveSyncConfig{
			ImageFiles: true,
			AudioFiles: true,
			VideoFiles: true,
			PDFFiles:   true,
			OtherFiles: true,
			ConfigDir:  ".obsidian",
			Vault: VaultConfig{
				MainSettings:            true,
				Appearance:              true,
				Themes:                  true,
				Hotkeys:                 true,
				ActiveCorePlugins:       true,
				CorePluginSettings:      true,
				ActiveCommunityPlugins:  true,
				CommunityPluginSettings: true,
			},
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		System: SystemConfig{
			DBPath:   "./data/state.db",
			LogLevel: "info",
		},
	}
}

// LoadConfig 读取并解析配置文件
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 在默认值之上解析 YAML 并校验
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 格式错误: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验与转换
func (c *Config) Validate() error {
	duration, err := time.ParseDuration(c.Sync.Interval)
	if err != nil {
		return fmt.Errorf("无效的同步间隔格式 (sync.interval): %w", err)
	}
	if duration <= 0 {
		return fmt.Errorf("同步间隔必须大于 0 (sync.interval): %s", c.Sync.Interval)
	}
	c.Sync.IntervalDuration = duration

	if c.Sync.LocalDir == "" {
		return fmt.Errorf("sync.local_dir 不能为空")
	}
	if c.Sync.MaxConcurrent < 1 {
		return fmt.Errorf("sync.max_concurrent 必须 >= 1, 当前为 %d", c.Sync.MaxConcurrent)
	}

	switch c.Sync.ConflictStrategy {
	case StrategyLastWriteWins, StrategyMerge, StrategyCreateConflictFile:
	default:
		return fmt.Errorf("未知的冲突策略: %s", c.Sync.ConflictStrategy)
	}

	switch c.Sync.DeleteConflict {
	case DeleteConflictResurrect, DeleteConflictPropagate:
	default:
		return fmt.Errorf("未知的删除冲突处理方式 (sync.delete_conflict): %s", c.Sync.DeleteConflict)
	}

	// 扩展名统一为小写并带前导点
	for i, ext := range c.Sync.MergeableExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Sync.MergeableExtensions[i] = ext
	}

	if c.Sync.TrashDir != "" {
		trash := path.Clean(strings.ReplaceAll(c.Sync.TrashDir, "\\", "/"))
		if path.IsAbs(trash) || trash == "." || trash == ".." || strings.HasPrefix(trash, "../") {
			return fmt.Errorf("sync.trash_dir 必须是 local_dir 内的相对路径: %s", c.Sync.TrashDir)
		}
		c.Sync.TrashDir = trash
	}

	if c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket 不能为空")
	}
	if c.SelectiveSync.ConfigDir == "" {
		c.SelectiveSync.ConfigDir = ".obsidian"
	}
	return nil
}
