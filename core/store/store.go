// Package store is the durable append-only fact log. Facts are appended by
// the RPC front door and the inbound tailer, and delivered in commit order,
// at least once, to a named checkpointed consumer. SQLite in WAL mode backs
// the log; the checkpoint row is advanced only after the handler returns, so
// a crash replays the in-flight fact rather than losing it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Fact kinds.
const (
	KindTurnCompleted = "TurnCompleted"
	KindReplyReceived = "ReplyReceived"
)

// StreamID names the single stream this daemon appends to.
const StreamID = "courier.events"

// deliveryPollInterval is the fallback wake-up for Run when no append
// notification arrives (e.g. a second process appended to the same file).
const deliveryPollInterval = 2 * time.Second

// TurnCompleted records an agent finishing a work unit.
type TurnCompleted struct {
	SessionID        string `json:"session_id"`
	SessionLabel     string `json:"session_label"`
	LastUserPrompt   string `json:"last_user_prompt"`
	AssistantMessage string `json:"assistant_message"`
	MainContext      string `json:"main_context"`
}

// ReplyReceived records a new qualifying row in the operator's inbound
// message log.
type ReplyReceived struct {
	Text string `json:"text"`
}

// Fact is one committed record. ID is the store-assigned sequence position
// and the only ordering consumers may rely on.
type Fact struct {
	ID         int64
	Kind       string
	Payload    []byte
	RecordedAt time.Time
}

// Store is the SQLite-backed fact log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// wake is signalled (non-blocking) on every append so Run picks up new
	// facts without waiting for the poll ticker.
	wake chan struct{}
}

// Open opens or creates the fact log at path and runs schema migration.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=1", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// A single writer connection sidesteps SQLITE_BUSY between the producers
	// and the consumer checkpoint updates.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS facts (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			stream      TEXT    NOT NULL,
			kind        TEXT    NOT NULL,
			payload     TEXT    NOT NULL,
			recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_facts_stream ON facts(stream, id);
		CREATE TABLE IF NOT EXISTS checkpoints (
			consumer TEXT PRIMARY KEY,
			position INTEGER NOT NULL
		);
	`)
	return err
}

// Append durably commits one fact. The payload must be JSON-marshalable.
func (s *Store) Append(ctx context.Context, kind string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (stream, kind, payload) VALUES (?, ?, ?)`,
		StreamID, kind, string(body),
	); err != nil {
		return fmt.Errorf("append %s: %w", kind, err)
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// AppendTurnCompleted appends a TurnCompleted fact.
func (s *Store) AppendTurnCompleted(ctx context.Context, turn TurnCompleted) error {
	return s.Append(ctx, KindTurnCompleted, turn)
}

// AppendReplyReceived appends a ReplyReceived fact.
func (s *Store) AppendReplyReceived(ctx context.Context, text string) error {
	return s.Append(ctx, KindReplyReceived, ReplyReceived{Text: text})
}

// Run delivers committed facts past the consumer's checkpoint to handler,
// one at a time, in commit order. The checkpoint advances after handler
// returns, giving at-least-once semantics. Handler errors are logged and the
// fact is skipped; a fact that cannot be handled once will not be handled
// better on replay. Run blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context, consumer string, handler func(context.Context, Fact) error) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO checkpoints (consumer, position) VALUES (?, 0)`,
		consumer,
	); err != nil {
		return fmt.Errorf("init checkpoint %q: %w", consumer, err)
	}

	ticker := time.NewTicker(deliveryPollInterval)
	defer ticker.Stop()

	for {
		if err := s.deliverPending(ctx, consumer, handler); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.logger.Warn("fact delivery failed", "consumer", consumer, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

func (s *Store) deliverPending(ctx context.Context, consumer string, handler func(context.Context, Fact) error) error {
	for {
		facts, err := s.pending(ctx, consumer, 64)
		if err != nil {
			return err
		}
		if len(facts) == 0 {
			return nil
		}
		for _, fact := range facts {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := handler(ctx, fact); err != nil {
				s.logger.Warn("fact handler failed, skipping",
					"consumer", consumer, "kind", fact.Kind, "id", fact.ID, "error", err)
			}
			// The handler ran; record that even if shutdown began while it
			// was running, so the fact is not replayed on the next start.
			if _, err := s.db.ExecContext(context.WithoutCancel(ctx),
				`UPDATE checkpoints SET position = ? WHERE consumer = ?`,
				fact.ID, consumer,
			); err != nil {
				return fmt.Errorf("advance checkpoint %q: %w", consumer, err)
			}
		}
	}
}

func (s *Store) pending(ctx context.Context, consumer string, limit int) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.kind, f.payload, f.recorded_at
		FROM facts f, checkpoints c
		WHERE c.consumer = ? AND f.stream = ? AND f.id > c.position
		ORDER BY f.id ASC
		LIMIT ?`,
		consumer, StreamID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var f Fact
		var payload string
		if err := rows.Scan(&f.ID, &f.Kind, &payload, &f.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.Payload = []byte(payload)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// Checkpoint flushes the WAL into the main database file. Call only after
// all producers and the consumer have stopped.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
