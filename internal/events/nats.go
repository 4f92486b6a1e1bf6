package events

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
)

type natsConn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// NATSPublisher publishes each event on <prefix>.<action>, e.g. message.created.
type NATSPublisher struct {
	nc     natsConn
	prefix string
}

func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("messaging-service"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "message"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

func (p *NATSPublisher) subject(eventType string) string {
	return p.prefix + "." + strings.TrimPrefix(eventType, "message.")
}

func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject(ev.Type), b)
}

func (p *NATSPublisher) Close() error { return p.nc.Drain() }
