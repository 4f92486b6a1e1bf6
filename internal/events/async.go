package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/metrics"
)

var (
	ErrQueueFull = errors.New("events: queue full")
	ErrClosed    = errors.New("events: publisher closed")
)

// Async queues events for a single worker so callers never wait on the broker.
// Per-conversation order is kept because one worker publishes in queue order.
type Async struct {
	next    Publisher
	queue   chan Event
	timeout time.Duration
	log     *zap.Logger
	m       *metrics.Metrics

	mu     sync.RWMutex
	closed bool

	base   context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAsync starts the worker. Each event gets timeout to reach next; Close
// waits at most that long for the backlog before abandoning it.
func NewAsync(next Publisher, buffer int, timeout time.Duration, log *zap.Logger, m *metrics.Metrics) *Async {
	if buffer <= 0 {
		buffer = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	base, cancel := context.WithCancel(context.Background())
	a := &Async{
		next:    next,
		queue:   make(chan Event, buffer),
		timeout: timeout,
		log:     log,
		m:       m,
		base:    base,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish never blocks. It fails with ErrQueueFull when the backlog is at capacity.
func (a *Async) Publish(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- ev:
		return nil
	default:
		a.m.Published.WithLabelValues(ev.Type, "dropped").Inc()
		return ErrQueueFull
	}
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(a.base, a.timeout)
		err := a.next.Publish(ctx, ev)
		cancel()
		if err != nil {
			a.m.Published.WithLabelValues(ev.Type, "error").Inc()
			a.log.Warn("publish event failed", zap.String("type", ev.Type), zap.String("message_id", ev.MessageID), zap.Error(err))
			continue
		}
		a.m.Published.WithLabelValues(ev.Type, "ok").Inc()
	}
}

// Close stops intake, drains the backlog and closes the wrapped publisher.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	t := time.NewTimer(a.timeout)
	defer t.Stop()
	select {
	case <-a.done:
	case <-t.C:
		a.log.Warn("event backlog not drained, abandoning", zap.Int("pending", len(a.queue)))
		a.cancel()
		<-a.done
	}
	a.cancel()
	return a.next.Close()
}
