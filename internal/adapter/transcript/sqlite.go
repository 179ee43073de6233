// Package transcript persists conversation histories so they can be resumed.
package transcript

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"steelwool/internal/domain"
	"steelwool/internal/usecase"
)

// Summary describes a stored transcript without its messages.
type Summary struct {
	ID           string
	Title        string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// timeLayout is fixed width so text order in SQL matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore stores transcripts in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs the
// schema migration. The parent directory is created if needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create transcript dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open transcript db: %w", err)
	}
	// A single connection keeps PRAGMAs and transactions on one handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate transcript db: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS messages (
			transcript_id TEXT NOT NULL REFERENCES transcripts(id) ON DELETE CASCADE,
			seq           INTEGER NOT NULL,
			role          TEXT NOT NULL,
			content       TEXT NOT NULL,
			content_type  TEXT NOT NULL DEFAULT 'text',
			PRIMARY KEY (transcript_id, seq)
		);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create starts an empty transcript and returns its ULID.
func (s *SQLiteStore) Create(ctx context.Context, title string) (string, error) {
	now := s.now()
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
	ts := now.UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO transcripts (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)",
		id, title, ts, ts,
	)
	if err != nil {
		return "", fmt.Errorf("create transcript: %w", err)
	}
	return id, nil
}

// Save replaces the stored messages of transcript id with history.
func (s *SQLiteStore) Save(ctx context.Context, id string, history *usecase.History) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		"UPDATE transcripts SET updated_at = ? WHERE id = ?",
		s.now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("touch transcript: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewDomainError("SQLiteStore.Save", domain.ErrTranscriptNotFound, id)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE transcript_id = ?", id); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (transcript_id, seq, role, content, content_type) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range history.Messages() {
		ct := m.ContentType
		if ct == "" {
			ct = domain.ContentTypeText
		}
		if _, err := stmt.ExecContext(ctx, id, i, string(m.Role), m.Content, string(ct)); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Load rebuilds the history stored under id.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*usecase.History, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM transcripts WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("SQLiteStore.Load", domain.ErrTranscriptNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content, content_type FROM messages WHERE transcript_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var role, content, ct string
		if err := rows.Scan(&role, &content, &ct); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, domain.Message{
			Role:        domain.Role(role),
			Content:     content,
			ContentType: domain.ContentType(ct),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return usecase.NewHistory(msgs...), nil
}

// List returns all transcripts, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.title, t.created_at, t.updated_at, COUNT(m.seq)
		FROM transcripts t
		LEFT JOIN messages m ON m.transcript_id = t.id
		GROUP BY t.id
		ORDER BY t.updated_at DESC, t.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum              Summary
			created, updated string
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &created, &updated, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		sum.CreatedAt, _ = time.Parse(timeLayout, created)
		sum.UpdatedAt, _ = time.Parse(timeLayout, updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes transcript id and its messages.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM transcripts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewDomainError("SQLiteStore.Delete", domain.ErrTranscriptNotFound, id)
	}
	return nil
}
