package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record or setting does not exist
var ErrNotFound = errors.New("not found")

// SessionRecord is one completed play-through, persisted when the Room
// Controller reports session_ended (or the game master files it manually).
type SessionRecord struct {
	ID               string    `json:"id"`
	EndedAt          time.Time `json:"date"`
	Result           string    `json:"result"`
	RoomDurationSec  int       `json:"roomDuration"`
	TimeRemainingSec int       `json:"timeRemaining"`
	HintsGiven       int       `json:"hintsGiven"`
}

// Store is the panel's local persistence: session history, the hint list and
// a small settings key-value surface, all in one sqlite file.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	ended_at TEXT NOT NULL,
	result TEXT NOT NULL,
	room_duration_sec INTEGER NOT NULL,
	time_remaining_sec INTEGER NOT NULL,
	hints_given INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS hints (
	position INTEGER PRIMARY KEY,
	text TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
`

// Open opens (creating if needed) the store at path
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveSession persists a completed session. A missing ID or end time is
// filled in; the stored record is returned.
func (s *Store) SaveSession(ctx context.Context, rec SessionRecord) (SessionRecord, error) {
	if rec.ID == "" {
		rec.ID = "session-" + uuid.New().String()
	}
	if rec.EndedAt.IsZero() {
		rec.EndedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(session_id, ended_at, result, room_duration_sec, time_remaining_sec, hints_given)
VALUES (?, ?, ?, ?, ?, ?)
`, rec.ID, rec.EndedAt.UTC().Format(time.RFC3339), rec.Result, rec.RoomDurationSec, rec.TimeRemainingSec, rec.HintsGiven)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("insert session: %w", err)
	}
	return rec, nil
}

// ListSessions returns all saved sessions, oldest first
func (s *Store) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, ended_at, result, room_duration_sec, time_remaining_sec, hints_given
FROM sessions ORDER BY ended_at, session_id
`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var endedAt string
		if err := rows.Scan(&rec.ID, &endedAt, &rec.Result, &rec.RoomDurationSec, &rec.TimeRemainingSec, &rec.HintsGiven); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ts, err := time.Parse(time.RFC3339, endedAt)
		if err != nil {
			return nil, fmt.Errorf("parse session date %q: %w", endedAt, err)
		}
		rec.EndedAt = ts
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSession removes one session by id
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearSessions wipes the session history
func (s *Store) ClearSessions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	return nil
}

// ReplaceHints overwrites the whole hint list
func (s *Store) ReplaceHints(ctx context.Context, hints []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM hints`); err != nil {
		return fmt.Errorf("clear hints: %w", err)
	}
	for i, text := range hints {
		if _, err := tx.ExecContext(ctx, `INSERT INTO hints(position, text) VALUES (?, ?)`, i, text); err != nil {
			return fmt.Errorf("insert hint %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Hints returns the hint list in position order
func (s *Store) Hints(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT text FROM hints ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list hints: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan hint: %w", err)
		}
		out = append(out, text)
	}
	return out, rows.Err()
}

// UpdateHint rewrites the hint at index
func (s *Store) UpdateHint(ctx context.Context, index int, text string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE hints SET text = ? WHERE position = ?`, text, index)
	if err != nil {
		return fmt.Errorf("update hint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteHint removes the hint at index and closes the gap
func (s *Store) DeleteHint(ctx context.Context, index int) error {
	hints, err := s.Hints(ctx)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(hints) {
		return ErrNotFound
	}
	return s.ReplaceHints(ctx, append(hints[:index], hints[index+1:]...))
}

// SetSetting stores an opaque value under key
func (s *Store) SetSetting(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings(key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value
`, key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// Setting fetches the value stored under key
func (s *Store) Setting(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// DeleteSetting removes key; deleting an absent key is not an error
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	return nil
}
