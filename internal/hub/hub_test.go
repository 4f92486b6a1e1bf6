package hub

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/metrics"
)

type chanSink struct {
	ch     chan []byte
	mu     sync.Mutex
	kicked bool
}

func newSink(n int) *chanSink { return &chanSink{ch: make(chan []byte, n)} }

func (s *chanSink) Enqueue(b []byte) bool {
	select {
	case s.ch <- b:
		return true
	default:
		return false
	}
}

func (s *chanSink) Kick() {
	s.mu.Lock()
	s.kicked = true
	s.mu.Unlock()
}

func TestEmitReachesEverySession(t *testing.T) {
	h := New(zap.NewNop(), nil)
	a, b := newSink(4), newSink(4)
	h.Join("u", a)
	h.Join("u", b)
	h.Join("other", newSink(4))

	n := h.Emit("u", map[string]string{"type": "ping"})
	assert.Equal(t, 2, n)
	assert.JSONEq(t, `{"type":"ping"}`, string(<-a.ch))
	assert.JSONEq(t, `{"type":"ping"}`, string(<-b.ch))
	assert.Equal(t, 0, h.Emit("nobody", "x"))
}

func TestSlowSessionIsPruned(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := New(zap.NewNop(), m)
	slow := newSink(0)
	fast := newSink(2)
	h.Join("u", slow)
	h.Join("u", fast)
	assert.Equal(t, 2, h.sessions("u"))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Sessions))

	assert.Equal(t, 1, h.deliver("u", []byte(`{}`)))
	assert.True(t, slow.kicked)
	assert.Equal(t, 1, h.sessions("u"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DroppedDeliveries))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Sessions))
}

func TestLeave(t *testing.T) {
	h := New(zap.NewNop(), nil)
	id := h.Join("u", newSink(1))
	assert.True(t, h.Leave("u", id))
	assert.False(t, h.Leave("u", id))
	assert.Equal(t, 0, h.sessions("u"))
}
