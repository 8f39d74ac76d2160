// Package supervisor runs named background goroutines tied to a shared
// context, with panic recovery and graceful, timeout-aware waiting.
package supervisor

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"tickq/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log logx.Logger

	// Counters are best-effort operational metrics.
	started uint64
	active  int64

	wg sync.WaitGroup
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Go starts fn under the supervisor. A panic is recovered and logged;
// a returned error is logged but does not cancel siblings.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	atomic.AddUint64(&s.started, 1)
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("goroutine panicked",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()

		s.log.Debug("goroutine started", logx.String("name", name))
		start := time.Now()
		if err := fn(s.ctx); err != nil && s.ctx.Err() == nil {
			s.log.Warn("goroutine exited with error",
				logx.String("name", name), logx.Err(err),
				logx.Duration("ran", time.Since(start)))
			return
		}
		s.log.Debug("goroutine stopped", logx.String("name", name), logx.Duration("ran", time.Since(start)))
	}()
}

// Stop cancels the shared context and waits for all goroutines, up to
// the given timeout (0 waits forever).
func (s *Supervisor) Stop(timeout time.Duration) bool {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		s.log.Warn("supervisor stop timed out",
			logx.Int64("still_active", atomic.LoadInt64(&s.active)),
			logx.Duration("timeout", timeout))
		return false
	}
}

// Active reports the number of currently running goroutines.
func (s *Supervisor) Active() int64 { return atomic.LoadInt64(&s.active) }
