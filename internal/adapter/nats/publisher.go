// Package nats publishes tile events over NATS.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
	natsgo "github.com/nats-io/nats.go"
)

// Publisher implements pipeline.EventPublisher on a core NATS connection.
// Events go to "<subject>.<state>", e.g. "ssurgo.tiles.written".
type Publisher struct {
	conn    *natsgo.Conn
	subject string
}

// NewPublisher connects to NATS, retrying in the background if the server is
// not up yet.
func NewPublisher(url, subject string, logger *slog.Logger) (*Publisher, error) {
	conn, err := natsgo.Connect(url,
		natsgo.Name("ssurgo-feature-etl"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
		natsgo.ReconnectHandler(func(c *natsgo.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Publisher{conn: conn, subject: subject}, nil
}

func (p *Publisher) Publish(_ context.Context, event domain.TileEvent) error {
	msg, err := newMessage(p.subject, event)
	if err != nil {
		return err
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish tile event: %w", err)
	}
	return nil
}

// CheckReadiness reports whether the connection is established.
func (p *Publisher) CheckReadiness(_ context.Context) error {
	if status := p.conn.Status(); status != natsgo.CONNECTED {
		return fmt.Errorf("nats connection %s", status)
	}
	return nil
}

// Close flushes pending events and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

func newMessage(subject string, event domain.TileEvent) (*natsgo.Msg, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("serialize tile event: %w", err)
	}
	msg := natsgo.NewMsg(subject + "." + strings.ToLower(string(event.State)))
	msg.Data = data
	msg.Header.Set("Run-Id", event.RunID)
	msg.Header.Set("Feature-Type", string(event.FeatureType))
	return msg, nil
}
