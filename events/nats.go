package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix prefixes the subjects of published events.
const DefaultSubjectPrefix = "struktura"

// NATSBus publishes events as JSON on "<prefix>.<kind>" subjects, for
// example "struktura.field.deleted".
type NATSBus struct {
	conn   *nats.Conn
	prefix string
	owned  bool
	logger *slog.Logger
}

// NewNATSBus wraps an existing connection. The caller keeps ownership of conn.
func NewNATSBus(conn *nats.Conn, prefix string, logger *slog.Logger) *NATSBus {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSBus{conn: conn, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// DialNATS connects to url and returns a bus that closes the connection on
// Close.
func DialNATS(url, prefix string, logger *slog.Logger) (*NATSBus, error) {
	conn, err := nats.Connect(url, nats.Name("struktura"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	b := NewNATSBus(conn, prefix, logger)
	b.owned = true
	b.logger.Info("Connected to NATS", slog.String("url", conn.ConnectedUrl()))
	return b, nil
}

// Subject returns the subject an event kind is published on.
func (b *NATSBus) Subject(k Kind) string {
	return b.prefix + "." + string(k)
}

// Publish implements Bus.
func (b *NATSBus) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.conn.Publish(b.Subject(e.Kind), data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", e.Kind, err)
	}
	return nil
}

// Subscribe delivers events published under the bus prefix to h until the
// returned subscription is drained.
func (b *NATSBus) Subscribe(h Handler) (*nats.Subscription, error) {
	return b.conn.Subscribe(b.prefix+".>", func(msg *nats.Msg) {
		var e Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			b.logger.Warn("Dropping malformed event", slog.String("subject", msg.Subject), slog.Any("error", err))
			return
		}
		h(context.Background(), e)
	})
}

// Close flushes pending messages and closes the connection if the bus
// opened it.
func (b *NATSBus) Close() error {
	if !b.owned {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}
