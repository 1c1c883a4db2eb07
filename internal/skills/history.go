package skills

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// HistoryStore is a sqlite-backed RecordSink so execution history survives
// restarts. The in-memory bounded history in Executor remains the hot path;
// this store is the durable mirror.
type HistoryStore struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenHistoryStore opens (creating if needed) the history database.
func OpenHistoryStore(path string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: wal mode: %w", err)
	}

	s := &HistoryStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return s, nil
}

func (s *HistoryStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS executions (
		id          TEXT PRIMARY KEY,
		skill_id    TEXT NOT NULL,
		parameters  TEXT NOT NULL DEFAULT '{}',
		success     INTEGER NOT NULL,
		message     TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL,
		ts          INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_executions_skill ON executions(skill_id, ts)`)
	return err
}

// Append stores one execution record.
func (s *HistoryStore) Append(rec ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(rec.Parameters)
	if err != nil {
		paramsJSON = []byte("{}")
	}

	var success int
	var message string
	if rec.Result != nil {
		if rec.Result.Success {
			success = 1
		}
		message = rec.Result.Message
	}

	_, err = s.db.Exec(
		`INSERT INTO executions (id, skill_id, parameters, success, message, error, duration_ms, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SkillID, string(paramsJSON), success, message, rec.Error,
		rec.DurationMs, rec.Timestamp.UnixMilli(),
	)
	return err
}

// Recent returns up to limit records for a skill (all skills when skillID
// is empty), newest first.
func (s *HistoryStore) Recent(skillID string, limit int) ([]ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, skill_id, parameters, success, message, error, duration_ms, ts
		FROM executions`
	args := []any{}
	if skillID != "" {
		query += ` WHERE skill_id = ?`
		args = append(args, skillID)
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		var paramsJSON, message string
		var success int
		var ts int64
		if err := rows.Scan(&rec.ID, &rec.SkillID, &paramsJSON, &success, &message, &rec.Error, &rec.DurationMs, &ts); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		_ = json.Unmarshal([]byte(paramsJSON), &rec.Parameters)
		rec.Result = &Result{Success: success == 1, Message: message, Error: rec.Error}
		rec.Timestamp = time.UnixMilli(ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}
