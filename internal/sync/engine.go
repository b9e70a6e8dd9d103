package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"vaultsync/internal/filter"
	"vaultsync/internal/fs"
)

// EngineOptions 初始化选项
type EngineOptions struct {
	LocalFS  fs.FileSystem
	RemoteFS fs.FileSystem
	StateDB  StateStore
	// Filter 分别作用于三份列表，nil 表示不过滤
	Filter              filter.Filter
	MaxWorkers          int
	ConflictStrategy    ConflictStrategy
	MergeableExtensions []string
	DeleteConflict      DeletePolicy
	// 为 true 时有任何单个操作失败，本轮记为 ERROR
	FailOnOperationErrors bool
	// 测试中可替换
	Now func() time.Time
}

// Report 一轮同步的规划与执行结果
type Report struct {
	Plan   Plan
	Result Result
	Status Status
}

type Engine struct {
	opts     *EngineOptions
	resolver *Resolver
	state    *StateMachine
}

func NewEngine(opts *EngineOptions) *Engine {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 5
	}
	if opts.DeleteConflict == "" {
		opts.DeleteConflict = DeleteResurrect
	}
	return &Engine{
		opts:     opts,
		resolver: NewResolver(opts.ConflictStrategy, opts.MergeableExtensions),
		state:    NewStateMachine(),
	}
}

// State 暴露状态机，供调用方订阅状态变化
func (e *Engine) State() *StateMachine {
	return e.state
}

// Run 执行一次完整的同步周期
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	return e.run(ctx, false)
}

// DryRun 只规划不执行，不修改任何一侧和数据库
func (e *Engine) DryRun(ctx context.Context) (*Report, error) {
	return e.run(ctx, true)
}

func (e *Engine) run(ctx context.Context, dryRun bool) (report *Report, err error) {
	if err := e.state.Begin(); err != nil {
		return nil, err
	}
	report = &Report{}
	defer func() {
		report.Status = e.state.Finish(err)
		e.state.Settle()
	}()

	plan, err := e.plan(ctx)
	if err != nil {
		return report, err
	}
	report.Plan = plan

	summary := plan.Summary()
	slog.Info("同步检查完成",
		"发现任务数", plan.Pending(),
		"upload", summary[ActionUpload],
		"download", summary[ActionDownload],
		"delete_local", summary[ActionDeleteLocal],
		"delete_remote", summary[ActionDeleteRemote],
		"merge", summary[ActionMerge],
		"conflict_file", summary[ActionCreateConflictFile],
	)
	if dryRun {
		return report, nil
	}

	executor := NewExecutor(&ExecutorOptions{
		LocalFS:    e.opts.LocalFS,
		RemoteFS:   e.opts.RemoteFS,
		StateDB:    e.opts.StateDB,
		MaxWorkers: e.opts.MaxWorkers,
		Mergeable:  e.mergeable(),
		Now:        e.opts.Now,
	})
	report.Result = executor.Execute(ctx, plan)

	if e.opts.FailOnOperationErrors && report.Result.Failed > 0 {
		return report, fmt.Errorf("%d operation(s) failed", report.Result.Failed)
	}
	return report, nil
}

// plan 连通性检查 -> 并发获取三方状态 -> 过滤 -> 对账 -> 规划
// 任何一步出错都不会执行任何操作
func (e *Engine) plan(ctx context.Context) (Plan, error) {
	ok, err := e.opts.RemoteFS.TestConnection(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteUnreachable, err)
	}
	if !ok {
		return nil, ErrRemoteUnreachable
	}

	// 1. 获取三方状态 (并发获取以加速)
	var local, remote, previous []fs.Entity

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		local, err = e.opts.LocalFS.Walk(gctx)
		if err != nil {
			return fmt.Errorf("scan local failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		remote, err = e.opts.RemoteFS.Walk(gctx)
		if err != nil {
			return fmt.Errorf("scan remote failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		states, err := e.opts.StateDB.ListAll()
		if err != nil {
			return fmt.Errorf("scan db failed: %w", err)
		}
		previous = make([]fs.Entity, 0, len(states))
		for _, s := range states {
			if s.MergeUnclean {
				slog.Warn("上次合并结果不干净，请检查", "path", s.Key)
			}
			previous = append(previous, s.Entity)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 2. 过滤
	if e.opts.Filter != nil {
		local = e.opts.Filter.Apply(local)
		remote = e.opts.Filter.Apply(remote)
		previous = e.opts.Filter.Apply(previous)
	}

	// 3. 对账与规划
	plan, err := Reconcile(local, remote, previous)
	if err != nil {
		return nil, err
	}
	planner := &Planner{Resolver: e.resolver, DeleteConflict: e.opts.DeleteConflict}
	return planner.Plan(plan), nil
}

func (e *Engine) mergeable() func(string) bool {
	if e.resolver.Strategy != StrategyMerge {
		return nil
	}
	return e.resolver.Mergeable
}

// IsFatal 区分前置检查类错误与其他错误，便于调用方决定是否重试
func IsFatal(err error) bool {
	return errors.Is(err, ErrRemoteUnreachable) || errors.Is(err, fs.ErrMissingModTime)
}
