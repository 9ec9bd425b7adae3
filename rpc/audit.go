package rpc

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// AuditStore persists one row per mutating RPC call so operators can
// reconstruct who drove which state change and when.
type AuditStore struct {
	db *sql.DB
}

// OpenAuditStore opens (and migrates) the audit database at path.
func OpenAuditStore(path string) (*AuditStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    recorded_at INTEGER NOT NULL,
    method TEXT NOT NULL,
    source TEXT NOT NULL,
    outcome TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_method ON audit_log (method, recorded_at);
`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: migrate schema: %w", err)
	}
	return &AuditStore{db: db}, nil
}

// Record appends one audit row. The generated UUID doubles as a correlation
// id in operator tooling.
func (s *AuditStore) Record(method, source, outcome string) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO audit_log (id, recorded_at, method, source, outcome) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), time.Now().Unix(), method, source, outcome,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest audit rows, newest first.
func (s *AuditStore) Recent(limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, recorded_at, method, source, outcome FROM audit_log ORDER BY recorded_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		if err := rows.Scan(&entry.ID, &entry.RecordedAt, &entry.Method, &entry.Source, &entry.Outcome); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *AuditStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AuditEntry mirrors one audit_log row.
type AuditEntry struct {
	ID         string `json:"id"`
	RecordedAt int64  `json:"recordedAt"`
	Method     string `json:"method"`
	Source     string `json:"source"`
	Outcome    string `json:"outcome"`
}
