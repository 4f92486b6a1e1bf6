package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
	"github.com/fathima-sithara/messaging-service/internal/hub"
	"github.com/fathima-sithara/messaging-service/internal/presence"
	"github.com/fathima-sithara/messaging-service/internal/repository"
	"github.com/fathima-sithara/messaging-service/internal/service"
)

var errConnClosed = errors.New("use of closed connection")

type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	controls []int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return 1, b, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return errConnClosed
	}
}

func (c *fakeConn) WriteControl(kind int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, kind)
	return nil
}

func (c *fakeConn) SetReadLimit(int64)                        {}
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *fakeConn) SetPongHandler(func(appData string) error) {}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type tokenVerifier struct{}

func (tokenVerifier) Verify(token string) (string, error) {
	if !strings.HasPrefix(token, "tok-") {
		return "", apperr.New(apperr.ErrUnauthenticated, "invalid token")
	}
	return strings.TrimPrefix(token, "tok-"), nil
}

type harness struct {
	srv      *Server
	store    *repository.MemoryStore
	registry *presence.Registry
	hub      *hub.Hub
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	log := zap.NewNop()
	store := repository.NewMemoryStore()
	reg := presence.NewRegistry(log)
	h := hub.New(log, nil)
	msgs := service.NewMessageService(service.Deps{Store: store, Presence: reg, Log: log})
	srv := NewServer(Deps{
		Messages:  msgs,
		Directory: service.NewDirectoryService(store),
		Presence:  reg,
		Hub:       h,
		Verifier:  tokenVerifier{},
		Log:       log,
	}, cfg)
	t.Cleanup(srv.Shutdown)
	return &harness{srv: srv, store: store, registry: reg, hub: h}
}

type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload"`
}

func (f frame) fields() map[string]any {
	m := map[string]any{}
	_ = json.Unmarshal(f.Payload, &m)
	return m
}

type client struct {
	user    string
	conn    *fakeConn
	done    chan struct{}
	pending []frame
}

// connect opens a session for user and waits until it has joined.
func (h *harness) connect(t *testing.T, user string) *client {
	t.Helper()
	c := &client{user: user, conn: newFakeConn(), done: make(chan struct{})}
	before := h.registry.Get(user).Sessions
	go func() {
		defer close(c.done)
		h.srv.Serve(c.conn, "tok-"+user)
	}()
	require.Eventually(t, func() bool {
		return h.registry.Get(user).Sessions > before
	}, 2*time.Second, 5*time.Millisecond)
	return c
}

func (c *client) send(t *testing.T, typ, requestID string, payload any) {
	t.Helper()
	env := map[string]any{"type": typ, "requestId": requestID}
	if payload != nil {
		env["payload"] = payload
	}
	b, err := json.Marshal(env)
	require.NoError(t, err)
	c.conn.in <- b
}

func (c *client) sendRaw(b []byte) { c.conn.in <- b }

// next returns the first frame of type typ whose payload contains want,
// holding back frames that don't match for later calls.
func (c *client) next(t *testing.T, typ string, want map[string]any) frame {
	t.Helper()
	for i, f := range c.pending {
		if f.Type == typ && contains(f.fields(), want) {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return f
		}
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case b := <-c.conn.out:
			var f frame
			require.NoError(t, json.Unmarshal(b, &f))
			if f.Type == typ && contains(f.fields(), want) {
				return f
			}
			c.pending = append(c.pending, f)
		case <-deadline:
			t.Fatalf("%s: no %q frame matching %v; held %d others", c.user, typ, want, len(c.pending))
			return frame{}
		}
	}
}

// quiet fails if a frame of type typ arrives within d.
func (c *client) quiet(t *testing.T, typ string, d time.Duration) {
	t.Helper()
	for _, f := range c.pending {
		require.NotEqual(t, typ, f.Type)
	}
	timeout := time.After(d)
	for {
		select {
		case b := <-c.conn.out:
			var f frame
			require.NoError(t, json.Unmarshal(b, &f))
			require.NotEqual(t, typ, f.Type, "unexpected %s frame", typ)
			c.pending = append(c.pending, f)
		case <-timeout:
			return
		}
	}
}

func (c *client) close(t *testing.T) {
	t.Helper()
	close(c.conn.in)
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: session did not end", c.user)
	}
}

// contains reports whether got holds every key of want. A key ending in
// "#len" compares the length of a list.
func contains(got, want map[string]any) bool {
	for k, w := range want {
		if base, ok := strings.CutSuffix(k, "#len"); ok {
			list, _ := got[base].([]any)
			if toString(len(list)) != toString(w) {
				return false
			}
			continue
		}
		g, ok := got[k]
		if !ok {
			return false
		}
		if gm, ok := g.(map[string]any); ok {
			wm, ok := w.(map[string]any)
			if !ok || !contains(gm, wm) {
				return false
			}
			continue
		}
		if toString(g) != toString(w) {
			return false
		}
	}
	return true
}

func toString(v any) string { return fmt.Sprint(v) }
