package queue

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"fetchd/internal/eventbus"
	"fetchd/pkg/logx"
)

// dispatchLoop is the single admission goroutine. It idles on a bounded poll
// while paused, at the concurrency limit, or out of pending work, and exits
// when stopCh closes. In-flight executions are never waited on here.
func (s *Service) dispatchLoop(cfg Config, stopCh <-chan struct{}, stopDone chan<- struct{}) {
	defer close(stopDone)

	tmr := time.NewTimer(cfg.PollInterval)
	defer tmr.Stop()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if t := s.admitNext(cfg); t != nil {
			go s.execute(*t)
			continue
		}

		if !tmr.Stop() {
			select {
			case <-tmr.C:
			default:
			}
		}
		tmr.Reset(cfg.PollInterval)
		select {
		case <-stopCh:
			return
		case <-tmr.C:
		}
	}
}

// admitNext pops the best pending task and moves it to Running, or returns
// nil when nothing can be admitted right now. Cancelled entries found at the
// top of the heap are discarded here.
func (s *Service) admitNext(cfg Config) *Task {
	s.mu.Lock()

	if s.paused || len(s.active) >= cfg.MaxConcurrent {
		s.mu.Unlock()
		return nil
	}

	var t *Task
	for s.heap.Len() > 0 {
		cand := heap.Pop(&s.heap).(*Task)
		if cand.Status == StatusPending {
			t = cand
			break
		}
		// Cancelled while queued; already announced, nothing to do.
	}
	if t == nil {
		s.mu.Unlock()
		return nil
	}

	t.Status = StatusRunning
	t.StartedAt = time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	s.active[t.ID] = cancel
	s.runCtxs[t.ID] = ctx
	cp := *t
	s.mu.Unlock()

	s.publish(eventbus.DownloadStarted, map[string]any{"task_id": cp.ID, "url": cp.Request.URL})
	s.log.Info("task started", logx.String("task", cp.ID), logx.String("url", cp.Request.URL))
	return &cp
}

// execute runs one admitted task to completion on its own goroutine. This is
// the catch-and-convert boundary of the error design: executor errors and
// panics become a Failed status, cancellation becomes Cancelled, and nothing
// escapes into the dispatch loop.
func (s *Service) execute(t Task) {
	s.mu.Lock()
	exec := s.exec
	ctx := s.runCtxs[t.ID]
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	var err error
	if exec == nil {
		err = ErrNoExecutor
	} else {
		err = s.runExecutor(ctx, exec, t)
	}
	dur := time.Since(start)

	s.mu.Lock()
	cur := s.tasks[t.ID]
	delete(s.runCtxs, t.ID)
	if cancel := s.active[t.ID]; cancel != nil {
		delete(s.active, t.ID)
		defer cancel()
	}

	if cur == nil {
		// Table was cleared while this execution was in flight; there is no
		// state left to update.
		s.mu.Unlock()
		s.log.Debug("task finished after table clear", logx.String("task", t.ID), logx.Duration("dur", dur))
		return
	}
	if cur.Status == StatusCancelled {
		// Cancel() already set the state and published download:cancelled.
		s.mu.Unlock()
		s.log.Info("task cancelled mid-flight", logx.String("task", t.ID), logx.Duration("dur", dur))
		return
	}

	cur.CompletedAt = time.Now()
	if err != nil {
		cur.Status = StatusFailed
		cur.ErrorMessage = err.Error()
	} else {
		cur.Status = StatusCompleted
		cur.Progress = 100
	}
	cp := *cur
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("task failed", logx.String("task", cp.ID), logx.Err(err), logx.Duration("dur", dur))
		s.publish(eventbus.DownloadFailed, map[string]any{
			"task_id": cp.ID,
			"url":     cp.Request.URL,
			"error":   cp.ErrorMessage,
		})
		return
	}
	s.log.Info("task completed", logx.String("task", cp.ID), logx.Duration("dur", dur))
	s.publish(eventbus.DownloadCompleted, map[string]any{
		"task_id":   cp.ID,
		"url":       cp.Request.URL,
		"title":     cp.Request.Title,
		"file_path": cp.FilePath,
	})
}

// runExecutor isolates the executor call so a panic converts to an error
// instead of taking down the process.
func (s *Service) runExecutor(ctx context.Context, exec ExecFunc, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
			s.log.Error("panic in executor",
				logx.String("task", t.ID),
				logx.Any("panic", r),
				logx.Stack(logx.StackTrace(3, 16)))
		}
	}()
	return exec(ctx, t, s.progressReporter(t.ID))
}
