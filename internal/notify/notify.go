// Package notify announces changes to the set of governing licenses.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const DefaultSubject = "licenses.changed"

// Change is published whenever a license takes over at least one feature.
type Change struct {
	LicenseID string    `json:"license_id"`
	Features  []string  `json:"features"`
	At        time.Time `json:"at"`
}

type Notifier interface {
	LicenseChanged(ctx context.Context, change Change) error
}

type Nop struct{}

func (Nop) LicenseChanged(context.Context, Change) error { return nil }

// Publisher is the subset of *nats.Conn used for notifications.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

type NATSNotifier struct {
	conn       Publisher
	subject    string
	maxRetries int
	logger     *zap.Logger
}

func NewNATSNotifier(conn Publisher, subject string, maxRetries int, logger *zap.Logger) *NATSNotifier {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSNotifier{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
		logger:     logger.Named("NATSNotifier"),
	}
}

func (n *NATSNotifier) LicenseChanged(ctx context.Context, change Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= n.maxRetries; i++ {
		err = n.conn.Publish(n.subject, data)
		if err == nil {
			return nil
		}
		n.logger.Debug("Publish failed, retrying", zap.Int("attempt", i+1), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i*100) * time.Millisecond):
		}
	}

	return fmt.Errorf("publish failed after %d retries: %w", n.maxRetries, err)
}

// Connect dials the NATS server at url. An empty url disables notifications.
func Connect(url, name, subject string, logger *zap.Logger) (Notifier, func(), error) {
	if url == "" {
		logger.Info("NATS URL not configured, license change notifications disabled")
		return Nop{}, func() {}, nil
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("Successfully connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return NewNATSNotifier(nc, subject, 3, logger), nc.Close, nil
}
