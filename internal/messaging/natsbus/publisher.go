// Package natsbus mirrors run events onto NATS subjects so processes outside
// the orchestrator can follow runs.
package natsbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"agentrouter/internal/domain"
)

type conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends every event as JSON to "<prefix>.<task id>". Failures are
// logged and never reach the run.
type Publisher struct {
	conn   conn
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

func Connect(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("agentrouter"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	p := newPublisher(nc, prefix, logger)
	p.nc = nc
	return p, nil
}

func newPublisher(c conn, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "agentrouter.events"
	}
	return &Publisher{conn: c, prefix: prefix, logger: logger}
}

func (p *Publisher) Subject(taskID string) string {
	return p.prefix + "." + taskID
}

func (p *Publisher) Publish(ev domain.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("encode event for nats failed", "task_id", ev.TaskID, "error", err)
		return nil
	}
	if err := p.conn.Publish(p.Subject(ev.TaskID), raw); err != nil {
		p.logger.Warn("nats publish failed", "task_id", ev.TaskID, "type", ev.Type, "error", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
