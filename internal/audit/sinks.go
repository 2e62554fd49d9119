package audit

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/postgres"
)

// HTTPSink posts each event as {time, message, data} to a log drain.
type HTTPSink struct {
	endpoint string
	client   *http.Client
}

func NewHTTPSink(endpoint string, client *http.Client) *HTTPSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSink{endpoint: endpoint, client: client}
}

func (s *HTTPSink) Name() string { return "http" }

// Write stops at the first failure; the rest of the batch is lost.
func (s *HTTPSink) Write(ctx context.Context, events []Event) error {
	for _, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshaling audit event: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("building audit request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("posting audit event: %w", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("audit drain returned HTTP %d", resp.StatusCode)
		}
	}
	return nil
}

// KafkaSink publishes events to a topic, keyed by message.
type KafkaSink struct {
	producer *kafka.Producer
}

func NewKafkaSink(producer *kafka.Producer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, events []Event) error {
	batch := make([]kafka.Event, 0, len(events))
	for _, ev := range events {
		batch = append(batch, kafka.Event{Key: ev.Message, Value: ev})
	}
	return s.producer.PublishBatch(ctx, batch)
}

// PostgresSink appends events to the audit_events table.
type PostgresSink struct {
	db *postgres.Client
}

func NewPostgresSink(db *postgres.Client) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Name() string { return "postgres" }

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	message     TEXT NOT NULL,
	data        JSONB
);
CREATE INDEX IF NOT EXISTS audit_events_occurred_at_idx ON audit_events (occurred_at);
`

// EnsureSchema creates the table if it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating audit_events: %w", err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, events []Event) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO audit_events (occurred_at, message, data) VALUES ($1, $2, $3)`)
		if err != nil {
			return fmt.Errorf("preparing audit insert: %w", err)
		}
		defer stmt.Close()
		for _, ev := range events {
			var data []byte
			if len(ev.Data) > 0 {
				if data, err = json.Marshal(ev.Data); err != nil {
					return fmt.Errorf("marshaling audit data: %w", err)
				}
			}
			if _, err := stmt.ExecContext(ctx, ev.Time, ev.Message, nullableJSON(data)); err != nil {
				return fmt.Errorf("inserting audit event: %w", err)
			}
		}
		return nil
	})
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
