package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the ledger database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id          TEXT PRIMARY KEY,
		thread_id   TEXT NOT NULL,
		kind        TEXT NOT NULL,
		timestamp   DATETIME NOT NULL,
		summary     TEXT NOT NULL,
		action_type TEXT,
		region      TEXT,
		approved    INTEGER,
		detail      TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_records_thread ON records(thread_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Insert(r *Record) error {
	var approved any
	if r.Approved != nil {
		approved = *r.Approved
	}
	var detail any
	if len(r.Detail) > 0 {
		detail = string(r.Detail)
	}

	_, err := s.db.Exec(`
		INSERT INTO records (id, thread_id, kind, timestamp, summary, action_type, region, approved, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ThreadID, string(r.Kind), r.Timestamp.UTC(), r.Summary,
		r.ActionType, r.Region, approved, detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(threadID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, thread_id, kind, timestamp, summary, action_type, region, approved, detail
		FROM records WHERE thread_id = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?`,
		threadID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecentActions(threadID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.Query(`
		SELECT summary FROM records
		WHERE thread_id = ? AND kind = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?`,
		threadID, string(KindAction), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent actions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return nil, fmt.Errorf("failed to scan action summary: %w", err)
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PruneOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res, err := s.db.Exec(`DELETE FROM records WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune records: %w", err)
	}
	return res.RowsAffected()
}

func scanRecord(rows *sql.Rows) (*Record, error) {
	var r Record
	var approved sql.NullBool
	var actionType, region, detail sql.NullString

	if err := rows.Scan(&r.ID, &r.ThreadID, (*string)(&r.Kind), &r.Timestamp,
		&r.Summary, &actionType, &region, &approved, &detail); err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	if approved.Valid {
		v := approved.Bool
		r.Approved = &v
	}
	r.ActionType = actionType.String
	r.Region = region.String
	if detail.Valid && detail.String != "" {
		r.Detail = []byte(detail.String)
	}
	return &r, nil
}

// compile-time interface check
var _ Store = (*SQLiteStore)(nil)
