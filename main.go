package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "config/config.yaml"

var rootCmd = &cobra.Command{
	Use:   "vaultsync",
	Short: "双向同步本地笔记库与 S3 兼容存储",
	// 不带子命令时等同于 daemon
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "配置文件路径")
	rootCmd.AddCommand(
		newSyncCmd(),
		newPlanCmd(),
		newTestConnectionCmd(),
		newResetCmd(),
		newDaemonCmd(),
	)
}

func main() {
	// SIGINT / SIGTERM 取消根 context，正在执行的操作会先排空
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
