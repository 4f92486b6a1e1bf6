package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyWriter struct {
	failures int
	calls    int
	got      []kafka.Message
}

func (w *flakyWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.calls++
	if w.calls <= w.failures {
		return errors.New("leader not available")
	}
	w.got = append(w.got, msgs...)
	return nil
}

func (w *flakyWriter) Close() error { return nil }

func TestKafkaPublishRetries(t *testing.T) {
	w := &flakyWriter{failures: 2}
	p := &KafkaPublisher{w: w, maxElapsed: 2 * time.Second}

	ev := Event{Type: MessageCreated, MessageID: "m1", SenderID: "b", ReceiverID: "a", At: time.Now()}
	require.NoError(t, p.Publish(context.Background(), ev))
	assert.Equal(t, 3, w.calls)
	require.Len(t, w.got, 1)
	assert.Equal(t, "a:b", string(w.got[0].Key))

	var decoded Event
	require.NoError(t, json.Unmarshal(w.got[0].Value, &decoded))
	assert.Equal(t, "m1", decoded.MessageID)
}

func TestKafkaPublishGivesUp(t *testing.T) {
	w := &flakyWriter{failures: 1 << 30}
	p := &KafkaPublisher{w: w, maxElapsed: 200 * time.Millisecond}
	assert.Error(t, p.Publish(context.Background(), Event{Type: MessageSeen}))
}

type recordingConn struct {
	subjects []string
}

func (c *recordingConn) Publish(subj string, _ []byte) error {
	c.subjects = append(c.subjects, subj)
	return nil
}

func (c *recordingConn) Drain() error { return nil }

func TestNATSSubjects(t *testing.T) {
	c := &recordingConn{}
	p := &NATSPublisher{nc: c, prefix: "chat"}
	require.NoError(t, p.Publish(context.Background(), Event{Type: MessageEdited}))
	require.NoError(t, p.Publish(context.Background(), Event{Type: MessageReaction}))
	assert.Equal(t, []string{"chat.edited", "chat.reaction"}, c.subjects)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, p.Publish(ctx, Event{Type: MessageEdited}))
}

func TestEventKeyIsOrderIndependent(t *testing.T) {
	a := Event{SenderID: "x", ReceiverID: "y"}
	b := Event{SenderID: "y", ReceiverID: "x"}
	assert.Equal(t, a.Key(), b.Key())
}
