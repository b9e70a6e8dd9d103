package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"vaultsync/internal/config"
	"vaultsync/internal/database"
	"vaultsync/internal/filter"
	"vaultsync/internal/fs/local"
	"vaultsync/internal/fs/s3"
	syncer "vaultsync/internal/sync"
	"vaultsync/pkg/logger"
)

// app 一次命令执行所需的全部组件
type app struct {
	cfg      *config.Config
	db       *database.DB
	localFS  *local.Adapter
	remoteFS *s3.Adapter
	engine   *syncer.Engine
}

// newApp 按顺序初始化: 配置 -> 日志 -> 数据库 -> 适配器 -> 过滤器 -> 引擎
func newApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("配置加载失败: %w", err)
	}

	if err := logger.Setup(cfg.System.LogLevel, cfg.System.LogFile); err != nil {
		return nil, fmt.Errorf("日志初始化失败: %w", err)
	}
	cmd.SilenceUsage = true

	slog.Info("配置已加载",
		"config", configPath,
		"local_dir", cfg.Sync.LocalDir,
		"bucket", cfg.S3.Bucket,
		"prefix", cfg.S3.RemotePrefix,
		"strategy", cfg.Sync.ConflictStrategy,
	)

	db, err := database.NewBoltDB(cfg.System.DBPath)
	if err != nil {
		return nil, fmt.Errorf("数据库初始化失败 (%s): %w", cfg.System.DBPath, err)
	}

	remoteFS, err := newRemote(cmd.Context(), cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	chain, err := filter.New(cfg.SelectiveSync)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("过滤规则无效: %w", err)
	}

	localFS := local.NewAdapter(cfg.Sync.LocalDir, local.WithTrash(cfg.Sync.TrashDir))
	engine := syncer.NewEngine(&syncer.EngineOptions{
		LocalFS:               localFS,
		RemoteFS:              remoteFS,
		StateDB:               db,
		Filter:                chain,
		MaxWorkers:            cfg.Sync.MaxConcurrent,
		ConflictStrategy:      syncer.ConflictStrategy(cfg.Sync.ConflictStrategy),
		MergeableExtensions:   cfg.Sync.MergeableExtensions,
		DeleteConflict:        syncer.DeletePolicy(cfg.Sync.DeleteConflict),
		FailOnOperationErrors: cfg.Sync.FailOnOperationErrors,
	})
	engine.State().Subscribe(func(from, to syncer.Status) {
		slog.Debug("同步状态变化", "from", from, "to", to)
	})

	return &app{
		cfg:      cfg,
		db:       db,
		localFS:  localFS,
		remoteFS: remoteFS,
		engine:   engine,
	}, nil
}

func newRemote(ctx context.Context, cfg *config.Config) (*s3.Adapter, error) {
	client, err := s3.NewClient(ctx, &s3.Options{
		Endpoint:        cfg.S3.Endpoint,
		Region:          cfg.S3.Region,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		ForcePathStyle:  cfg.S3.ForcePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("S3 客户端初始化失败: %w", err)
	}
	return s3.NewAdapter(client, s3.AdapterOptions{
		Bucket:               cfg.S3.Bucket,
		Prefix:               cfg.S3.RemotePrefix,
		AccurateMTime:        cfg.S3.AccurateMTime,
		GenerateFolderObject: cfg.S3.GenerateFolderObject,
	}), nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		slog.Warn("关闭数据库失败", "error", err)
	}
}
