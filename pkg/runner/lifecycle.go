package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrDrainTimeout = errors.New("drain timeout")
	ErrAlreadyRun   = errors.New("runner already started")
)

// LifecycleRunner moves the process through New, Starting, Running, Draining and Stopped.
// A runner runs at most once. Stop drains once; later calls return the first result.
type LifecycleRunner struct {
	state    atomic.Int32
	hooks    Hooks
	drainer  Drainer
	timeout  time.Duration
	stopping chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	sigOnce  sync.Once
	stopErr  error
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LifecycleRunner{
		hooks:    hooks,
		drainer:  drainer,
		timeout:  timeout,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs OnStart and returns once the runner is Running. The runner then drains by
// itself when ctx ends. A failing OnStart leaves the runner Stopped without draining.
func (r *LifecycleRunner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !r.casState(StateNew, StateStarting) {
		return ErrAlreadyRun
	}
	PrintBanner()
	if r.hooks.OnStart != nil {
		if err := r.hooks.OnStart(ctx); err != nil {
			r.stopOnce.Do(func() {
				r.stopErr = err
				r.setState(StateStopped)
				close(r.done)
			})
			return err
		}
	}
	r.setState(StateRunning)
	go func() {
		select {
		case <-ctx.Done():
		case <-r.stopping:
		}
		_ = r.stop()
	}()
	return nil
}

// Run is Start followed by Wait.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	return r.Wait()
}

// Wait blocks until the runner is Stopped and returns the drain result.
func (r *LifecycleRunner) Wait() error {
	<-r.done
	return r.stopErr
}

func (r *LifecycleRunner) Stop() error {
	r.sigOnce.Do(func() { close(r.stopping) })
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

func (r *LifecycleRunner) stop() error {
	r.stopOnce.Do(func() {
		r.setState(StateDraining)
		if r.drainer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			err := r.drainer.Drain(ctx)
			if ctx.Err() != nil {
				err = errors.Join(ErrDrainTimeout, err)
			}
			cancel()
			r.stopErr = err
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
		close(r.done)
	})
	<-r.done
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	r.state.Store(int32(s))
}
