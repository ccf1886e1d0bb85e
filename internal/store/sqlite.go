package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/jami-assistant/internal/domain"
	"github.com/ashureev/jami-assistant/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS actors (
		actor_id TEXT PRIMARY KEY,
		origin TEXT NOT NULL,
		first_seen_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL,
		turn_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_actors_last_seen ON actors(last_seen_at);

	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_actor ON conversations(actor_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetActor retrieves an actor by id.
func (s *SQLiteStore) GetActor(ctx context.Context, actorID string) (*domain.Actor, error) {
	query := `
		SELECT actor_id, origin, first_seen_at, last_seen_at, turn_count
		FROM actors WHERE actor_id = ?`

	var actor domain.Actor
	var firstSeen, lastSeen int64

	err := s.db.QueryRowContext(ctx, query, actorID).Scan(
		&actor.ActorID, &actor.Origin, &firstSeen, &lastSeen, &actor.TurnCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan actor row: %w", err)
	}

	actor.FirstSeenAt = time.Unix(firstSeen, 0)
	actor.LastSeenAt = time.Unix(lastSeen, 0)
	return &actor, nil
}

// UpsertActor creates an actor or refreshes its last_seen_at.
func (s *SQLiteStore) UpsertActor(ctx context.Context, actor *domain.Actor) error {
	query := `
	INSERT INTO actors (actor_id, origin, first_seen_at, last_seen_at, turn_count)
	VALUES (?, ?, ?, ?, 0)
	ON CONFLICT(actor_id) DO UPDATE SET
		last_seen_at = MAX(actors.last_seen_at, excluded.last_seen_at)`

	firstSeen := actor.FirstSeenAt
	if firstSeen.IsZero() {
		firstSeen = actor.LastSeenAt
	}

	return withRetry(ctx, "upsert actor", func() error {
		_, err := s.db.ExecContext(ctx, query,
			actor.ActorID, actor.Origin, firstSeen.Unix(), actor.LastSeenAt.Unix(),
		)
		return err
	})
}

// RecordTurn bumps the turn counter for an actor.
func (s *SQLiteStore) RecordTurn(ctx context.Context, actorID string, at time.Time) error {
	query := `UPDATE actors SET turn_count = turn_count + 1, last_seen_at = ? WHERE actor_id = ?`

	var rows int64
	err := withRetry(ctx, "record turn", func() error {
		result, err := s.db.ExecContext(ctx, query, at.Unix(), actorID)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		slog.Warn("RecordTurn affected 0 rows", "actor_id", actorID)
	}
	return nil
}

// StartConversation inserts a new open conversation row.
func (s *SQLiteStore) StartConversation(ctx context.Context, conv *domain.Conversation) error {
	query := `INSERT INTO conversations (conversation_id, actor_id, started_at, ended_at) VALUES (?, ?, ?, NULL)`
	return withRetry(ctx, "start conversation", func() error {
		_, err := s.db.ExecContext(ctx, query, conv.ConversationID, conv.ActorID, conv.StartedAt.Unix())
		return err
	})
}

// EndConversation marks a conversation as ended.
func (s *SQLiteStore) EndConversation(ctx context.Context, conversationID string, at time.Time) error {
	query := `UPDATE conversations SET ended_at = ? WHERE conversation_id = ? AND ended_at IS NULL`
	return withRetry(ctx, "end conversation", func() error {
		_, err := s.db.ExecContext(ctx, query, at.Unix(), conversationID)
		return err
	})
}

// GetConversation retrieves a conversation by id.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	query := `SELECT conversation_id, actor_id, started_at, ended_at FROM conversations WHERE conversation_id = ?`

	var conv domain.Conversation
	var startedAt int64
	var endedAt sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&conv.ConversationID, &conv.ActorID, &startedAt, &endedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	conv.StartedAt = time.Unix(startedAt, 0)
	if endedAt.Valid {
		ts := time.Unix(endedAt.Int64, 0)
		conv.EndedAt = &ts
	}
	return &conv, nil
}

// DeleteStaleActors removes actors idle longer than retention.
func (s *SQLiteStore) DeleteStaleActors(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).Unix()

	var deleted int64
	err := withRetry(ctx, "delete stale actors", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM conversations WHERE actor_id IN (SELECT actor_id FROM actors WHERE last_seen_at < ?)`,
			threshold,
		); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM actors WHERE last_seen_at < ?`, threshold)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	return deleted, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry runs op, retrying SQLITE_BUSY failures with exponential backoff.
func withRetry(ctx context.Context, what string, op func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
		slog.Debug("sqlite busy, retrying", "op", what, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}
