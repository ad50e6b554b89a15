package queue

import (
	"container/heap"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"fetchd/internal/eventbus"
	"fetchd/pkg/logx"
)

// ExecFunc performs the actual work of one admitted task. The scheduler calls
// it at most once per task, on a dedicated goroutine. Implementations must
// honor ctx for cooperative cancellation and should call report at safe
// points; the scheduler never forcibly stops a non-cooperative executor.
type ExecFunc func(ctx context.Context, task Task, report func(Update)) error

// Config controls the scheduler. Zero values fall back to defaults at Start.
type Config struct {
	MaxConcurrent int
	AutoStart     bool
	// PollInterval bounds how long the dispatch loop idles between admission
	// attempts when paused, at capacity, or out of work.
	PollInterval time.Duration
	// ProgressPerSec caps download:progress events published per task per
	// second. Zero means 4.
	ProgressPerSec int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.ProgressPerSec <= 0 {
		c.ProgressPerSec = 4
	}
	return c
}

// Service owns the work queue and the pool of concurrent executions.
//
// One dispatch goroutine admits work; each admitted task runs on its own
// goroutine. Executor panics are recovered at the task boundary and converted
// to a failed status, so nothing from inside a task ever reaches the dispatch
// loop.
type Service struct {
	mu sync.Mutex

	log  logx.Logger
	bus  *eventbus.Bus
	cfg  Config
	exec ExecFunc

	tasks  map[string]*Task
	heap   taskHeap
	seq    uint64
	active map[string]context.CancelFunc
	// runCtxs holds the cooperative-cancellation context for each running
	// task between admission and execution.
	runCtxs map[string]context.Context

	running  bool
	paused   bool
	stopCh   chan struct{}
	stopDone chan struct{}
}

func New(cfg Config, log logx.Logger, bus *eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		bus:     bus,
		cfg:     cfg.withDefaults(),
		tasks:   map[string]*Task{},
		active:  map[string]context.CancelFunc{},
		runCtxs: map[string]context.Context{},
	}
}

// SetExecutor installs the execution callback. Tasks admitted without one
// fail immediately with ErrNoExecutor.
func (s *Service) SetExecutor(fn ExecFunc) {
	s.mu.Lock()
	s.exec = fn
	s.mu.Unlock()
}

// Enqueue adds a request to the queue and returns the new task id. When
// AutoStart is set and the dispatch loop is not running yet, it is started.
func (s *Service) Enqueue(req Request, prio Priority) (string, error) {
	if strings.TrimSpace(req.URL) == "" {
		return "", ErrInvalidURL
	}
	if prio < PriorityHigh || prio > PriorityLow {
		prio = PriorityNormal
	}

	t := &Task{
		ID:        uuid.NewString(),
		Priority:  prio,
		CreatedAt: time.Now(),
		Request:   req,
		Status:    StatusPending,
	}

	s.mu.Lock()
	s.seq++
	t.seq = s.seq
	s.tasks[t.ID] = t
	heap.Push(&s.heap, t)
	autoStart := s.cfg.AutoStart && !s.running
	s.mu.Unlock()

	s.log.Info("task enqueued", logx.String("task", t.ID), logx.String("url", req.URL), logx.String("priority", prio.String()))
	s.publish(eventbus.QueueTaskAdded, map[string]any{"task_id": t.ID, "url": req.URL})

	if autoStart {
		s.Start()
	}
	return t.ID, nil
}

// EnqueueBatch enqueues every request at the same priority, in order.
func (s *Service) EnqueueBatch(reqs []Request, prio Priority) ([]string, error) {
	ids := make([]string, 0, len(reqs))
	for _, r := range reqs {
		id, err := s.Enqueue(r, prio)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Remove drops a pending task from the queue. Running tasks cannot be
// removed, only cancelled cooperatively; Remove returns false for them and
// for unknown or already-terminal ids.
func (s *Service) Remove(id string) bool {
	s.mu.Lock()
	t := s.tasks[id]
	if t == nil || t.Status != StatusPending {
		s.mu.Unlock()
		if t != nil && t.Status == StatusRunning {
			s.log.Warn("cannot remove a running task", logx.String("task", id))
		}
		return false
	}
	t.Status = StatusCancelled
	t.CompletedAt = time.Now()
	s.mu.Unlock()

	s.publish(eventbus.QueueTaskRemoved, map[string]any{"task_id": id})
	s.log.Info("task removed", logx.String("task", id))
	return true
}

// Cancel marks a task cancelled. For a running task this is advisory: its
// context is cancelled and the executor is expected to observe it; the
// scheduler does not interrupt a non-cooperative callback. Cancel never
// blocks.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	t := s.tasks[id]
	if t == nil || t.Status.Terminal() {
		s.mu.Unlock()
		return false
	}
	t.Status = StatusCancelled
	t.CompletedAt = time.Now()
	cancel := s.active[id]
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.publish(eventbus.DownloadCancelled, map[string]any{"task_id": id})
	s.log.Info("task cancelled", logx.String("task", id))
	return true
}

// UpdatePriority changes a pending task's priority and re-sorts the queue.
func (s *Service) UpdatePriority(id string, prio Priority) bool {
	if prio < PriorityHigh || prio > PriorityLow {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	if t == nil || t.Status != StatusPending || t.heapIndex < 0 {
		return false
	}
	t.Priority = prio
	heap.Fix(&s.heap, t.heapIndex)
	return true
}

// Start launches the dispatch loop. Calling Start while running is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.paused = false
	s.stopCh = make(chan struct{})
	s.stopDone = make(chan struct{})
	stopCh, stopDone := s.stopCh, s.stopDone
	cfg := s.cfg
	s.mu.Unlock()

	go s.dispatchLoop(cfg, stopCh, stopDone)

	s.publish(eventbus.QueueStarted, nil)
	s.log.Info("queue started", logx.Int("max_concurrent", cfg.MaxConcurrent))
}

// Stop halts admissions and waits (bounded by ctx, with a 2s fallback) for
// the dispatch loop to exit. In-flight executions are not interrupted.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, stopDone := s.stopCh, s.stopDone
	s.stopCh, s.stopDone = nil, nil
	s.mu.Unlock()

	close(stopCh)

	var wait <-chan time.Time
	if _, ok := ctx.Deadline(); !ok {
		tmr := time.NewTimer(2 * time.Second)
		defer tmr.Stop()
		wait = tmr.C
	}
	select {
	case <-stopDone:
	case <-ctx.Done():
	case <-wait:
		s.log.Warn("dispatch loop did not exit in time")
	}

	s.publish(eventbus.QueueStopped, nil)
	s.log.Info("queue stopped")
}

// Pause halts new admissions; in-flight executions continue.
func (s *Service) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.log.Info("queue paused")
}

// Resume re-enables admissions after Pause.
func (s *Service) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.log.Info("queue resumed")
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Task returns a copy of the task with the given id.
func (s *Service) Task(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	if t == nil {
		return Task{}, false
	}
	return *t, true
}

// Tasks returns copies of every task in the table, terminal ones included.
func (s *Service) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out
}

// TasksByStatus returns copies of tasks currently in the given state.
func (s *Service) TasksByStatus(st Status) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, t := range s.tasks {
		if t.Status == st {
			out = append(out, *t)
		}
	}
	return out
}

// ActiveCount reports how many executions hold a concurrency slot.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// QueueLen reports how many entries sit in the priority queue, cancelled
// stragglers included.
func (s *Service) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// Statistics counts tasks per status across the whole table.
func (s *Service) Statistics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Total: len(s.tasks)}
	for _, t := range s.tasks {
		switch t.Status {
		case StatusPending:
			st.Pending++
		case StatusRunning:
			st.Running++
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		case StatusCancelled:
			st.Cancelled++
		}
	}
	return st
}

// ClearCompleted drops terminal tasks from the table. Pending and running
// tasks are untouched.
func (s *Service) ClearCompleted() int {
	s.mu.Lock()
	n := 0
	for id, t := range s.tasks {
		if t.Status.Terminal() {
			// Cancelled entries may still sit in the heap; the dispatch loop
			// discards them at pop time.
			delete(s.tasks, id)
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.log.Info("cleared finished tasks", logx.Int("count", n))
	}
	return n
}

// ClearAll empties the queue and the task table. Running tasks get their
// cancellation flag set but their goroutines are left to wind down on their
// own.
func (s *Service) ClearAll() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.active))
	for id, cancel := range s.active {
		if t := s.tasks[id]; t != nil && !t.Status.Terminal() {
			t.Status = StatusCancelled
			t.CompletedAt = time.Now()
		}
		cancels = append(cancels, cancel)
	}
	for _, t := range s.heap {
		t.heapIndex = -1
	}
	s.heap = s.heap[:0]
	s.tasks = map[string]*Task{}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.publish(eventbus.QueueCleared, nil)
	s.log.Info("queue cleared", logx.Int("cancelled_active", len(cancels)))
}

func (s *Service) publish(name string, data map[string]any) {
	if s.bus != nil {
		s.bus.PublishFrom("queue", name, data)
	}
}

// progressReporter builds the per-task progress callback handed to the
// executor. Updates always land in the task table; event publication is
// throttled so a chatty executor cannot flood subscribers.
func (s *Service) progressReporter(id string) func(Update) {
	s.mu.Lock()
	perSec := s.cfg.ProgressPerSec
	s.mu.Unlock()
	lim := rate.NewLimiter(rate.Limit(perSec), 1)

	return func(u Update) {
		s.mu.Lock()
		t := s.tasks[id]
		if t == nil || t.Status != StatusRunning {
			s.mu.Unlock()
			return
		}
		t.Progress = u.Progress
		t.Speed = u.Speed
		t.ETA = u.ETA
		if u.FilePath != "" {
			t.FilePath = u.FilePath
		}
		s.mu.Unlock()

		if lim.Allow() {
			s.publish(eventbus.DownloadProgress, map[string]any{
				"task_id":  id,
				"progress": u.Progress,
				"speed":    u.Speed,
				"eta":      u.ETA,
			})
		}
	}
}
