package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ModelLoad is one successful artifact load recorded at startup.
type ModelLoad struct {
	ID            int64     `json:"id"`
	Target        string    `json:"target"`
	Path          string    `json:"path"`
	SHA256        string    `json:"sha256"`
	ModelType     string    `json:"model_type"`
	FormatVersion int       `json:"format_version"`
	Trees         int       `json:"trees"`
	Features      []string  `json:"features"`
	LoadedAt      time.Time `json:"loaded_at"`
}

// Store is the model load ledger. Prediction requests are never written here.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite ledger at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	query := `
    CREATE TABLE IF NOT EXISTS model_loads (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        target TEXT NOT NULL,
        path TEXT NOT NULL,
        sha256 TEXT NOT NULL,
        model_type TEXT NOT NULL,
        format_version INTEGER NOT NULL,
        trees INTEGER DEFAULT 0,
        features TEXT NOT NULL, -- JSON array
        loaded_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_model_loads_loaded_at ON model_loads(loaded_at);`
	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: database}, nil
}

// RecordModelLoad appends one load to the ledger.
func (s *Store) RecordModelLoad(ctx context.Context, load ModelLoad) error {
	if s == nil || s.db == nil {
		return errors.New("database not initialized")
	}
	if load.Target == "" {
		return errors.New("target required")
	}
	if load.LoadedAt.IsZero() {
		load.LoadedAt = time.Now().UTC()
	}
	features, err := json.Marshal(load.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO model_loads (
            target, path, sha256, model_type, format_version, trees, features, loaded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `,
		load.Target,
		load.Path,
		load.SHA256,
		load.ModelType,
		load.FormatVersion,
		load.Trees,
		string(features),
		load.LoadedAt.UTC(),
	)
	return err
}

// ListModelLoads returns up to limit entries, newest first.
func (s *Store) ListModelLoads(ctx context.Context, limit int) ([]ModelLoad, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, target, path, sha256, model_type, format_version, trees, features, loaded_at
        FROM model_loads
        ORDER BY loaded_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loads := make([]ModelLoad, 0)
	for rows.Next() {
		var load ModelLoad
		var features string
		if err := rows.Scan(&load.ID, &load.Target, &load.Path, &load.SHA256, &load.ModelType,
			&load.FormatVersion, &load.Trees, &features, &load.LoadedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(features), &load.Features); err != nil {
			return nil, fmt.Errorf("decode features of load %d: %w", load.ID, err)
		}
		loads = append(loads, load)
	}
	return loads, rows.Err()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
