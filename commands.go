package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	gosync "sync"
	"time"

	"github.com/spf13/cobra"

	"vaultsync/internal/fs"
	syncer "vaultsync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "执行一轮同步后退出",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.engine.Run(cmd.Context())
			if report != nil {
				printResult(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
}

func newPlanCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "只规划不执行，打印每个路径将要执行的动作",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.engine.DryRun(cmd.Context())
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), report.Plan, all)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "同时列出 no_op 路径")
	return cmd
}

func newTestConnectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection",
		Short: "对本地目录和远端存储做读写探测",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var errs []error
			for _, side := range []struct {
				name string
				fsys fs.FileSystem
			}{
				{"local", a.localFS},
				{"remote", a.remoteFS},
			} {
				ok, err := side.fsys.TestConnection(cmd.Context())
				if ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%-6s  OK    %s\n", side.name, side.fsys.Root())
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-6s  FAIL  %s: %v\n", side.name, side.fsys.Root(), err)
				errs = append(errs, fmt.Errorf("%s: %w", side.name, err))
			}
			return errors.Join(errs...)
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "清空同步记录和合并基线，下一轮按首次同步处理",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.db.Clear(); err != nil {
				return fmt.Errorf("清空数据库失败: %w", err)
			}
			slog.Info("同步记录已清空", "path", a.cfg.System.DBPath)
			return nil
		},
	}
}

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "按配置的间隔周期性同步，直到收到退出信号",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd)
		},
	}
}

func runDaemon(cmd *cobra.Command) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	var wg gosync.WaitGroup

	runSync := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runOnce(ctx, a.engine)
		}()
	}

	slog.Info("守护模式启动", "interval", a.cfg.Sync.IntervalDuration)

	// 立即运行一次
	runSync()

	ticker := time.NewTicker(a.cfg.Sync.IntervalDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runSync()
		case <-ctx.Done():
			slog.Info("接收到退出信号，等待当前同步结束...")
			wg.Wait()
			slog.Info("所有任务已完成，程序退出")
			return nil
		}
	}
}

// runOnce 执行一轮同步，错误只记录不返回，守护进程继续下一轮
func runOnce(ctx context.Context, engine *syncer.Engine) {
	slog.Info(">>> 开始同步")
	report, err := engine.Run(ctx)
	switch {
	case errors.Is(err, syncer.ErrSyncAlreadyRunning):
		slog.Info("上一轮同步尚未结束，跳过本次触发")
		return
	case err == nil:
	case ctx.Err() != nil:
		slog.Warn("同步被中断")
	case syncer.IsFatal(err):
		slog.Error("同步中止，未执行任何操作", "error", err)
	default:
		slog.Error("同步错误", "error", err)
	}
	if report != nil {
		slog.Info("<<< 同步结束",
			"status", report.Status,
			"succeeded", report.Result.Succeeded,
			"failed", report.Result.Failed,
			"skipped", report.Result.Skipped,
		)
	}
}

func printPlan(w io.Writer, plan syncer.Plan, all bool) {
	shown := 0
	for _, key := range plan.Keys() {
		m := plan[key]
		if m.Action == syncer.ActionNoOp && !all {
			continue
		}
		shown++
		fmt.Fprintf(w, "%-22s %s", m.Action, key)
		if m.Reason != "" {
			fmt.Fprintf(w, "  (%s)", m.Reason)
		}
		fmt.Fprintln(w)
	}
	if shown == 0 {
		fmt.Fprintln(w, "无需任何操作")
	}
	fmt.Fprintf(w, "共 %d 个路径，%d 个待执行\n", len(plan), plan.Pending())
}

func printResult(w io.Writer, report *syncer.Report) {
	fmt.Fprintf(w, "%s: 成功 %d，失败 %d，跳过 %d\n",
		report.Status, report.Result.Succeeded, report.Result.Failed, report.Result.Skipped)
	keys := make([]string, 0, len(report.Result.Errors))
	for key := range report.Result.Errors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(w, "  %s: %v\n", key, report.Result.Errors[key])
	}
}
