package itinerary

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store backed by a single sqlite table holding each
// itinerary as an opaque JSON blob keyed by id ("opaque JSON
// blobs keyed by id" persisted-state layout.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a sqlite database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("itinerary: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("itinerary: open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("itinerary: set WAL mode: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("itinerary: migrate schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS itineraries (
			id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			owner_id TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_itineraries_owner ON itineraries(owner_id);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Create(ctx context.Context, it *Itinerary) error {
	body, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("itinerary: marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO itineraries (id, version, owner_id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		it.ID, it.Version, it.OwnerID, string(body), it.CreatedAt, it.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("itinerary: insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Itinerary, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM itineraries WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("itinerary: query: %w", err)
	}
	var it Itinerary
	if err := json.Unmarshal([]byte(body), &it); err != nil {
		return nil, fmt.Errorf("itinerary: unmarshal: %w", err)
	}
	return &it, nil
}

func (s *SQLiteStore) Update(ctx context.Context, it *Itinerary) (*Itinerary, error) {
	next := *it
	next.Version = it.Version + 1
	next.UpdatedAt = time.Now()
	body, err := json.Marshal(&next)
	if err != nil {
		return nil, fmt.Errorf("itinerary: marshal: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE itineraries SET version = ?, body = ?, updated_at = ? WHERE id = ? AND version = ?`,
		next.Version, string(body), next.UpdatedAt, it.ID, it.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("itinerary: update: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("itinerary: rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.Get(ctx, it.ID); getErr == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, ErrVersionConflict
	}
	return &next, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM itineraries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("itinerary: delete: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("itinerary: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
