package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// RestartPolicy decides whether a finished task runs again.
type RestartPolicy string

const (
	// RestartPermanent always restarts.
	RestartPermanent RestartPolicy = "permanent"
	// RestartTransient restarts only after an error.
	RestartTransient RestartPolicy = "transient"
	// RestartTemporary never restarts.
	RestartTemporary RestartPolicy = "temporary"
)

type SupervisorPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// MaxRestarts of 0 means unlimited.
	MaxRestarts int
}

func defaultSupervisorPolicy() SupervisorPolicy {
	return SupervisorPolicy{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func normalizeSupervisorPolicy(policy SupervisorPolicy) SupervisorPolicy {
	def := defaultSupervisorPolicy()
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = def.InitialBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = def.MaxBackoff
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = def.BackoffFactor
	}
	return policy
}

type TaskStatus struct {
	Name            string        `json:"name"`
	RestartPolicy   RestartPolicy `json:"restart_policy"`
	Running         bool          `json:"running"`
	RestartCount    int           `json:"restart_count"`
	LastError       string        `json:"last_error,omitempty"`
	PermanentFailed bool          `json:"permanent_failed"`
}

// Supervisor keeps long-running tasks such as the background trainer and
// the inspection server alive, restarting them with backoff.
type Supervisor struct {
	policy SupervisorPolicy
	log    *slog.Logger

	mu    sync.Mutex
	tasks map[string]*supervisorTask
}

type supervisorTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	status TaskStatus
}

func NewSupervisor(policy SupervisorPolicy, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Supervisor{
		policy: normalizeSupervisorPolicy(policy),
		log:    logger,
		tasks:  make(map[string]*supervisorTask),
	}
}

// Start runs fn under ctx until it returns without needing a restart, ctx
// is cancelled or Stop is called.
func (s *Supervisor) Start(ctx context.Context, name string, restart RestartPolicy, fn func(ctx context.Context) error) error {
	if name == "" {
		return errors.New("task name is required")
	}
	if fn == nil {
		return errors.New("task runner is required")
	}
	switch restart {
	case RestartPermanent, RestartTransient, RestartTemporary:
	case "":
		restart = RestartPermanent
	default:
		return fmt.Errorf("unknown restart policy %q", restart)
	}

	s.mu.Lock()
	if existing, ok := s.tasks[name]; ok && existing.status.Running {
		s.mu.Unlock()
		return fmt.Errorf("task already running: %s", name)
	}
	taskCtx, cancel := context.WithCancel(ctx)
	task := &supervisorTask{
		cancel: cancel,
		done:   make(chan struct{}),
		status: TaskStatus{Name: name, RestartPolicy: restart, Running: true},
	}
	s.tasks[name] = task
	s.mu.Unlock()

	go s.run(taskCtx, task, fn)
	return nil
}

func (s *Supervisor) run(ctx context.Context, task *supervisorTask, fn func(ctx context.Context) error) {
	defer func() {
		s.mu.Lock()
		task.status.Running = false
		s.mu.Unlock()
		close(task.done)
	}()

	backoff := s.policy.InitialBackoff
	for {
		err := fn(ctx)
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		if err != nil {
			task.status.LastError = err.Error()
		}
		restarts := task.status.RestartCount
		policy := task.status.RestartPolicy
		s.mu.Unlock()

		if !shouldRestart(policy, err) {
			return
		}
		if s.policy.MaxRestarts > 0 && restarts >= s.policy.MaxRestarts {
			s.mu.Lock()
			task.status.PermanentFailed = true
			s.mu.Unlock()
			s.log.Error("task failed permanently", "task", task.status.Name, "restarts", restarts, "err", err)
			return
		}

		s.mu.Lock()
		task.status.RestartCount++
		s.mu.Unlock()
		s.log.Warn("task restarting", "task", task.status.Name, "restarts", restarts+1, "backoff", backoff, "err", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(time.Duration(float64(backoff)*s.policy.BackoffFactor), s.policy.MaxBackoff)
	}
}

func shouldRestart(policy RestartPolicy, err error) bool {
	switch policy {
	case RestartTransient:
		return err != nil
	case RestartTemporary:
		return false
	default:
		return true
	}
}

// Stop cancels a task and waits for it to return.
func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	task.cancel()
	<-task.done
}

func (s *Supervisor) StopAll() {
	s.mu.Lock()
	tasks := make([]*supervisorTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
	}
	for _, task := range tasks {
		<-task.done
	}
}

// Wait blocks until every task has returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	tasks := make([]*supervisorTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.mu.Unlock()

	for _, task := range tasks {
		select {
		case <-task.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Supervisor) Children() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
