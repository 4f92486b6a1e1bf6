package presence

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMirror struct {
	mu     sync.Mutex
	calls  []string
	failOn string
}

func (f *fakeMirror) SetOnline(_ context.Context, userID, sessionID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "online:"+userID+":"+sessionID)
	if f.failOn == "online" {
		return errors.New("redis down")
	}
	return nil
}

func (f *fakeMirror) SetOffline(_ context.Context, userID, sessionID string, _ time.Time, last bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tag := "offline:"
	if last {
		tag = "offline-last:"
	}
	f.calls = append(f.calls, tag+userID+":"+sessionID)
	return nil
}

func (f *fakeMirror) Close() error { return nil }

func TestConnectDisconnect(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRegistry(zap.NewNop(), WithClock(func() time.Time { return clock }))

	assert.False(t, r.IsOnline("u"))
	assert.Equal(t, Offline, r.Get("u").Status)

	assert.True(t, r.Connect("u", "s1"))
	assert.False(t, r.Connect("u", "s2"))
	assert.True(t, r.IsOnline("u"))
	assert.Equal(t, 2, r.Get("u").Sessions)

	clock = clock.Add(time.Minute)
	assert.False(t, r.Disconnect("u", "s1"))
	assert.True(t, r.IsOnline("u"))

	clock = clock.Add(time.Minute)
	assert.True(t, r.Disconnect("u", "s2"))
	assert.False(t, r.IsOnline("u"))

	e := r.Get("u")
	assert.Equal(t, Offline, e.Status)
	assert.Equal(t, clock, e.LastSeen)

	// unknown session is ignored
	assert.False(t, r.Disconnect("u", "s2"))
	assert.False(t, r.Disconnect("ghost", "s"))
}

func TestMirrorFailureIsNotFatal(t *testing.T) {
	m := &fakeMirror{failOn: "online"}
	r := NewRegistry(zap.NewNop(), WithMirror(m))

	r.Connect("u", "s1")
	assert.True(t, r.IsOnline("u"))
	r.Disconnect("u", "s1")
	assert.Equal(t, []string{"online:u:s1", "offline-last:u:s1"}, m.calls)
}

func TestConcurrentSessions(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			r.Connect("u", id+"-"+time.Now().String())
		}(i)
	}
	wg.Wait()
	assert.True(t, r.IsOnline("u"))
}

func TestRedisMirror(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(ctx).Err())

	m := NewRedisMirror(client, "msgtest", time.Minute)
	t.Cleanup(func() {
		client.Del(ctx, m.connKey("u"), m.presenceKey("u"))
		_ = m.Close()
	})

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, m.SetOnline(ctx, "u", "s1", now))
	e, err := m.Lookup(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, Online, e.Status)
	assert.Equal(t, 1, e.Sessions)

	_, err = m.Lookup(ctx, "absent")
	assert.ErrorIs(t, err, ErrUnknown)

	require.NoError(t, m.SetOffline(ctx, "u", "s1", now, true))
	e, err = m.Lookup(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, Offline, e.Status)
	assert.Equal(t, now, e.LastSeen)
}

type lookupMirror struct {
	fakeMirror
	remote map[string]Entry
	err    error
}

func (m *lookupMirror) Lookup(_ context.Context, userID string) (Entry, error) {
	if m.err != nil {
		return Entry{}, m.err
	}
	e, ok := m.remote[userID]
	if !ok {
		return Entry{}, ErrUnknown
	}
	return e, nil
}

func TestGetFallsBackToMirror(t *testing.T) {
	seen := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	m := &lookupMirror{remote: map[string]Entry{
		"elsewhere": {UserID: "elsewhere", Status: Online, Sessions: 1, LastSeen: seen},
	}}
	r := NewRegistry(zap.NewNop(), WithMirror(m))

	e := r.Get("elsewhere")
	assert.Equal(t, Online, e.Status)
	assert.Equal(t, seen, e.LastSeen)

	assert.Equal(t, Entry{UserID: "ghost", Status: Offline}, r.Get("ghost"))

	// local entries win over the mirror
	r.Connect("elsewhere", "s1")
	r.Disconnect("elsewhere", "s1")
	assert.Equal(t, Offline, r.Get("elsewhere").Status)

	m.err = errors.New("redis down")
	assert.Equal(t, Entry{UserID: "nobody", Status: Offline}, r.Get("nobody"))
}
