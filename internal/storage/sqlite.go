package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/evotraders/evotraders/internal/analyst"
	"github.com/evotraders/evotraders/internal/baseline"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS settlement_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

const (
	keySettlementState = "settlement_state"
	keyLeaderboard     = "leaderboard"
)

// SQLiteStore keeps settlement documents as JSON values in sqlite, which
// gives durable writes without a schema migration per state-shape change.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) get(key string, out any) (bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settlement_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: select %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *SQLiteStore) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO settlement_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("storage: upsert %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) LoadSettlementState() (*baseline.State, error) {
	var st baseline.State
	ok, err := s.get(keySettlementState, &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

func (s *SQLiteStore) SaveSettlementState(st *baseline.State) error {
	return s.put(keySettlementState, st)
}

func (s *SQLiteStore) LoadLeaderboard() ([]analyst.Entry, error) {
	var entries []analyst.Entry
	ok, err := s.get(keyLeaderboard, &entries)
	if err != nil || !ok {
		return nil, err
	}
	return entries, nil
}

func (s *SQLiteStore) SaveLeaderboard(entries []analyst.Entry) error {
	return s.put(keyLeaderboard, entries)
}
