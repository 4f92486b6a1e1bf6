package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
	"github.com/fathima-sithara/messaging-service/internal/models"
	"github.com/fathima-sithara/messaging-service/internal/presence"
)

func TestHandshakeRejected(t *testing.T) {
	h := newHarness(t, Config{})
	conn := newFakeConn()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.srv.Serve(conn, "garbage")
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rejected session kept running")
	}

	var f frame
	require.NoError(t, json.Unmarshal(<-conn.out, &f))
	assert.Equal(t, OutError, f.Type)
	assert.Equal(t, "unauthenticated", f.fields()["code"])
	assert.False(t, h.registry.IsOnline("garbage"))
	assert.Zero(t, h.registry.Get("garbage").Sessions)
}

func TestSendFansOutToBothRooms(t *testing.T) {
	h := newHarness(t, Config{})
	x := h.connect(t, "x")
	y := h.connect(t, "y")
	y2 := h.connect(t, "y")

	x.send(t, EvSendMessage, "r1", map[string]any{"receiverId": "y", "message": "hi"})

	sent := x.next(t, OutMessageSent, map[string]any{"message": "hi"})
	assert.Equal(t, "r1", sent.RequestID)
	assert.Equal(t, true, sent.fields()["delivered"])
	x.next(t, OutAck, map[string]any{"event": EvSendMessage})
	y.next(t, OutPrivateMessage, map[string]any{"message": "hi", "senderId": "x"})
	y2.next(t, OutPrivateMessage, map[string]any{"message": "hi"})
}

func TestJoinMarksDeliveredAndAnnounces(t *testing.T) {
	h := newHarness(t, Config{})
	x := h.connect(t, "x")
	x.send(t, EvSendMessage, "", map[string]any{"receiverId": "y", "message": "while you were away"})
	sent := x.next(t, OutMessageSent, nil)
	assert.Equal(t, false, sent.fields()["delivered"])
	id := sent.fields()["id"].(string)

	h.connect(t, "y")
	x.next(t, OutUserOnline, map[string]any{"userId": "y", "status": "online"})

	m, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, m.Delivered)
}

func TestDisconnectAnnouncesOffline(t *testing.T) {
	h := newHarness(t, Config{})
	x := h.connect(t, "x")
	y := h.connect(t, "y")
	x.send(t, EvSendMessage, "", map[string]any{"receiverId": "y", "message": "hi"})
	x.next(t, OutMessageSent, nil)

	y2 := h.connect(t, "y")
	y2.close(t)
	assert.True(t, h.registry.IsOnline("y"))
	x.quiet(t, OutUserOffline, 50*time.Millisecond)

	y.close(t)
	x.next(t, OutUserOffline, map[string]any{"userId": "y", "status": "offline"})
	assert.False(t, h.registry.IsOnline("y"))
	assert.Equal(t, presence.Offline, h.registry.Get("y").Status)
}

func TestTypingGoesToTargetOnly(t *testing.T) {
	h := newHarness(t, Config{})
	x := h.connect(t, "x")
	y := h.connect(t, "y")

	x.send(t, EvTyping, "", map[string]any{"receiverId": "y"})
	y.next(t, EvTyping, map[string]any{"userId": "x"})
	x.send(t, EvStopTyping, "", map[string]any{"receiverId": "y"})
	y.next(t, EvStopTyping, map[string]any{"userId": "x"})

	x.send(t, EvTyping, "", map[string]any{"receiverId": "x"})
	x.quiet(t, EvTyping, 50*time.Millisecond)
}

func TestFailuresKeepSessionOpen(t *testing.T) {
	h := newHarness(t, Config{})
	x := h.connect(t, "x")
	y := h.connect(t, "y")

	x.sendRaw([]byte("{not json"))
	x.next(t, OutError, map[string]any{"code": "validation_error"})

	x.send(t, "dance", "r0", nil)
	e := x.next(t, OutError, map[string]any{"event": "dance"})
	assert.Equal(t, "r0", e.RequestID)

	x.send(t, EvSendMessage, "r1", map[string]any{"message": "no receiver"})
	e = x.next(t, OutError, map[string]any{"code": "validation_error", "requestId": "r1"})
	assert.NotEmpty(t, e.fields()["fields"])

	x.send(t, EvSendMessage, "", map[string]any{"receiverId": "y", "message": "mine"})
	id := x.next(t, OutMessageSent, nil).fields()["id"]

	y.send(t, EvEditMessage, "r2", map[string]any{"messageId": id, "newMessage": "theirs"})
	y.next(t, OutError, map[string]any{"code": "forbidden", "event": EvEditMessage, "requestId": "r2"})

	y.send(t, EvDeleteMessage, "r3", map[string]any{"messageId": id, "deleteFor": "sometimes"})
	y.next(t, OutError, map[string]any{"code": "validation_error", "requestId": "r3"})

	x.send(t, EvPresence, "r4", map[string]any{"userId": "y"})
	p := x.next(t, OutPresence, map[string]any{"status": "online"})
	assert.Equal(t, "r4", p.RequestID)
}

func TestEventsAreRateLimited(t *testing.T) {
	h := newHarness(t, Config{EventsPerSecond: 1})
	x := h.connect(t, "x")
	for i := 0; i < 5; i++ {
		x.send(t, EvPresence, "", map[string]any{"userId": "x"})
	}
	x.next(t, OutError, map[string]any{"code": "rate_limited", "event": EvPresence})
}

func TestForwardFansOutPerCopy(t *testing.T) {
	h := newHarness(t, Config{})
	x := h.connect(t, "x")
	a := h.connect(t, "a")
	b := h.connect(t, "b")

	x.send(t, EvSendMessage, "", map[string]any{"receiverId": "a", "message": "pass it on"})
	id := x.next(t, OutMessageSent, nil).fields()["id"].(string)
	a.next(t, OutPrivateMessage, nil)

	a.send(t, EvForwardMessage, "f1", map[string]any{"messageId": id, "receiverIds": []string{"b", "x"}})
	b.next(t, OutPrivateMessage, map[string]any{"forwardedFrom": id, "senderId": "a"})
	x.next(t, OutPrivateMessage, map[string]any{"forwardedFrom": id})
	a.next(t, OutMessageSent, map[string]any{"forwardedFrom": id, "receiverId": "b"})
	a.next(t, OutAck, map[string]any{"event": EvForwardMessage, "data": map[string]any{"messageIds#len": 2}})
}

func TestAttachmentKeysComeFromServerOnly(t *testing.T) {
	p := sendPayload{
		ReceiverID:  "y",
		MessageType: models.TypeImage,
		Attachment:  &models.Attachment{URL: "https://cdn/x.png", Key: "chat-app/images/victim.png"},
	}
	got, err := p.body()
	require.NoError(t, err)
	body := got.(models.AttachmentBody)
	assert.Empty(t, body.Attachment.Key)
	assert.Equal(t, models.TypeImage, body.Kind)

	text, err := sendPayload{ReceiverID: "y", Message: "hi"}.body()
	require.NoError(t, err)
	assert.Equal(t, models.TextBody{Text: "hi"}, text)
}

func TestMessageTypeMustMatchAttachment(t *testing.T) {
	_, err := sendPayload{ReceiverID: "y", Message: "cat.png", MessageType: models.TypeImage}.body()
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = sendPayload{
		ReceiverID:  "y",
		MessageType: models.TypeText,
		Attachment:  &models.Attachment{URL: "https://cdn/x.png"},
	}.body()
	assert.ErrorIs(t, err, apperr.ErrValidation)

	h := newHarness(t, Config{})
	x := h.connect(t, "x")
	x.send(t, EvSendMessage, "r1", map[string]any{"receiverId": "y", "message": "cat.png", "messageType": "image"})
	x.next(t, OutError, map[string]any{"code": "validation_error", "requestId": "r1"})
}

func TestIdleTransitions(t *testing.T) {
	h := newHarness(t, Config{IdleAfter: time.Minute})
	s := newSession(h.srv, newFakeConn())
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	s.setState(StateJoined)
	s.lastSeen.Store(t0.UnixNano())
	s.checkIdle(t0.Add(30 * time.Second))
	assert.Equal(t, StateJoined, s.State())

	s.touch(t0.Add(40 * time.Second))
	assert.Equal(t, StateActive, s.State())

	s.checkIdle(t0.Add(2 * time.Minute))
	assert.Equal(t, StateIdle, s.State())

	s.touch(t0.Add(3 * time.Minute))
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, "active", s.State().String())
}

func TestKickedSessionRefusesEvents(t *testing.T) {
	h := newHarness(t, Config{SendBuffer: 1})
	s := newSession(h.srv, newFakeConn())
	assert.True(t, s.Enqueue([]byte("a")))
	assert.False(t, s.Enqueue([]byte("b")))
	s.Kick()
	s.Kick()
	assert.False(t, s.Enqueue([]byte("c")))
}
