package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/callbridge/pkg/callstate"
)

// persistQueue writes transcript entries to the store in append order on one goroutine.
type persistQueue struct {
	store   callstate.Store
	callID  string
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending []callstate.Utterance
	closed  bool
	signal  chan struct{}
	stopped chan struct{}
}

func newPersistQueue(store callstate.Store, callID string, timeout time.Duration, logger *slog.Logger) *persistQueue {
	q := &persistQueue{
		store:   store,
		callID:  callID,
		timeout: timeout,
		logger:  logger,
		signal:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *persistQueue) push(u callstate.Utterance) {
	if q.store == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, u)
	q.mu.Unlock()
	q.wake()
}

func (q *persistQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *persistQueue) run() {
	defer close(q.stopped)
	for range q.signal {
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				closed := q.closed
				q.mu.Unlock()
				if closed {
					return
				}
				break
			}
			u := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
			if err := q.store.AppendTranscript(ctx, q.callID, u); err != nil {
				q.logger.Warn("transcript_persist_failed", slog.String("error", err.Error()))
			}
			cancel()
		}
	}
}

// close stops accepting entries and waits for the queue to drain. It reports false when
// the drain did not finish in time.
func (q *persistQueue) close() bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return true
	}
	q.closed = true
	q.mu.Unlock()
	q.wake()

	t := time.NewTimer(q.timeout)
	defer t.Stop()
	select {
	case <-q.stopped:
		return true
	case <-t.C:
		return false
	}
}
