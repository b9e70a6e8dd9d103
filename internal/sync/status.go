package sync

import (
	"errors"
	gosync "sync"
)

var (
	// ErrSyncAlreadyRunning 上一轮同步尚未结束时再次触发
	ErrSyncAlreadyRunning = errors.New("sync is already running")
	// ErrRemoteUnreachable 云端连通性检查失败
	ErrRemoteUnreachable = errors.New("remote filesystem is unreachable")
)

// Status 一轮同步的运行状态: IDLE -> SYNCING -> SUCCESS/ERROR -> IDLE
type Status int

const (
	StatusIdle Status = iota
	StatusSyncing
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusSyncing:
		return "SYNCING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Observer 在每次状态迁移后被调用
type Observer func(from, to Status)

// StateMachine 同步运行状态，SYNCING 期间拒绝新的触发 (不排队)
type StateMachine struct {
	mu        gosync.Mutex
	status    Status
	observers []Observer
}

func NewStateMachine() *StateMachine {
	return &StateMachine{status: StatusIdle}
}

// Subscribe 注册状态观察者
func (s *StateMachine) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *StateMachine) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Begin 进入 SYNCING，正在同步时返回 ErrSyncAlreadyRunning
func (s *StateMachine) Begin() error {
	s.mu.Lock()
	if s.status == StatusSyncing {
		s.mu.Unlock()
		return ErrSyncAlreadyRunning
	}
	s.transition(StatusSyncing)
	return nil
}

// Finish 根据 err 进入 SUCCESS 或 ERROR
func (s *StateMachine) Finish(err error) Status {
	to := StatusSuccess
	if err != nil {
		to = StatusError
	}
	s.mu.Lock()
	s.transition(to)
	return to
}

// Settle 结果已经汇报完毕，回到 IDLE
func (s *StateMachine) Settle() {
	s.mu.Lock()
	if s.status == StatusSyncing {
		// 运行中不能直接回到 IDLE
		s.mu.Unlock()
		return
	}
	s.transition(StatusIdle)
}

// transition 调用时必须持有锁，通知观察者前释放
func (s *StateMachine) transition(to Status) {
	from := s.status
	s.status = to
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	if from == to {
		return
	}
	for _, o := range observers {
		o(from, to)
	}
}
