// Package service holds the messaging rules shared by the realtime and REST layers.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/events"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"github.com/fathima-sithara/messaging-service/internal/repository"
	"github.com/fathima-sithara/messaging-service/internal/storage"
)

// Presence answers whether a user currently holds a live session.
type Presence interface {
	IsOnline(userID string) bool
}

type Deps struct {
	Store    repository.Store
	Presence Presence
	Blobs    storage.BlobStore
	Events   events.Publisher
	Log      *zap.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func (d *Deps) fill() {
	if d.Events == nil {
		d.Events = events.Noop{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New(nil)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

const publishTimeout = 5 * time.Second

// publish is best-effort; the message is already stored.
func publish(d Deps, ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := d.Events.Publish(ctx, ev); err != nil {
		d.Log.Warn("publish event failed", zap.String("type", ev.Type), zap.String("message_id", ev.MessageID), zap.Error(err))
	}
}
