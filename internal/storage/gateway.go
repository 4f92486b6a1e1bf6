// Package storage uploads chat attachments to object storage.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"github.com/fathima-sithara/messaging-service/internal/models"
)

// Backend is the raw object store.
type Backend interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Delete(ctx context.Context, key string) error
	// PublicURL is "" when objects are not publicly readable.
	PublicURL(key string) string
	Presign(ctx context.Context, key string) (string, error)
}

// BlobStore is what the message service needs from storage.
type BlobStore interface {
	Upload(ctx context.Context, kind models.MessageType, filename, mimeType string, data []byte) (models.Attachment, error)
	Delete(ctx context.Context, keys ...string) error
	// Sign returns a short-lived read URL for key.
	Sign(ctx context.Context, key string) (string, error)
}

type BreakerSettings struct {
	MaxFailures int
	Timeout     time.Duration
}

// Gateway applies upload policy and wraps the backend in a circuit breaker.
type Gateway struct {
	backend Backend
	cb      *gobreaker.CircuitBreaker
	log     *zap.Logger
	m       *metrics.Metrics
}

func NewGateway(b Backend, bs BreakerSettings, log *zap.Logger, m *metrics.Metrics) *Gateway {
	if bs.MaxFailures <= 0 {
		bs.MaxFailures = 5
	}
	if m == nil {
		m = metrics.New(nil)
	}
	st := gobreaker.Settings{
		Name:        "blob-store",
		MaxRequests: 1,
		Timeout:     bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(bs.MaxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Gateway{backend: b, cb: gobreaker.NewCircuitBreaker(st), log: log, m: m}
}

func (g *Gateway) call(op string, fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) { return nil, fn() })
	if err != nil {
		g.m.BlobOps.WithLabelValues(op, "error").Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return apperr.Upstream("blob store unavailable", err)
		}
		return apperr.Upstream("blob store "+op+" failed", err)
	}
	g.m.BlobOps.WithLabelValues(op, "ok").Inc()
	return nil
}

// Upload checks data against the kind's policy, stores it and, for images,
// stores a thumbnail next to it. A failed thumbnail does not fail the upload.
// URLs are only set for public buckets; private objects are read through Sign.
func (g *Gateway) Upload(ctx context.Context, kind models.MessageType, filename, mimeType string, data []byte) (models.Attachment, error) {
	p, err := PolicyFor(string(kind))
	if err != nil {
		return models.Attachment{}, err
	}
	if err := p.Check(int64(len(data)), mimeType); err != nil {
		return models.Attachment{}, err
	}

	key := objectKey(p.Folder, filename)
	if err := g.call("put", func() error { return g.backend.Put(ctx, key, mimeType, data) }); err != nil {
		return models.Attachment{}, err
	}

	a := models.Attachment{
		URL:          g.backend.PublicURL(key),
		Key:          key,
		OriginalName: filename,
		Size:         int64(len(data)),
		MimeType:     mimeType,
	}
	if kind == models.TypeImage {
		g.attachThumbnail(ctx, &a, data)
	}
	return a, nil
}

func (g *Gateway) attachThumbnail(ctx context.Context, a *models.Attachment, data []byte) {
	thumb, err := Thumbnail(data)
	if err != nil {
		g.log.Debug("thumbnail skipped", zap.String("key", a.Key), zap.Error(err))
		return
	}
	key := strings.TrimSuffix(a.Key, path.Ext(a.Key)) + "_thumb.jpg"
	if err := g.call("put", func() error { return g.backend.Put(ctx, key, "image/jpeg", thumb) }); err != nil {
		g.log.Warn("thumbnail upload failed", zap.String("key", key), zap.Error(err))
		return
	}
	a.Thumbnail = g.backend.PublicURL(key)
	a.ThumbnailKey = key
}

func (g *Gateway) Sign(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", apperr.Validation("blob key is required")
	}
	var u string
	err := g.call("presign", func() (err error) {
		u, err = g.backend.Presign(ctx, key)
		return err
	})
	return u, err
}

// Delete removes every key, continuing past failures, and returns the first error.
func (g *Gateway) Delete(ctx context.Context, keys ...string) error {
	var first error
	for _, k := range keys {
		if k == "" {
			continue
		}
		k := k
		if err := g.call("delete", func() error { return g.backend.Delete(ctx, k) }); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func objectKey(folder, filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, "\\", "/"))))
	if len(ext) > 10 || strings.ContainsAny(ext, " ?#%") {
		ext = ""
	}
	return folder + "/" + uuid.NewString() + ext
}
