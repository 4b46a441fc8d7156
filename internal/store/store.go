// Package store persists each operator chat's panel admin key so operators
// stay logged in across bot restarts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS admin_keys (
			chat_id INTEGER PRIMARY KEY,
			admin_key TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute init query: %w", err)
		}
	}
	return nil
}

// AdminKey returns the key saved for chatID. ok is false when none is saved.
func (s *Store) AdminKey(ctx context.Context, chatID int64) (key string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT admin_key FROM admin_keys WHERE chat_id = ?`, chatID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load admin key for chat %d: %w", chatID, err)
	}
	return key, true, nil
}

func (s *Store) SaveAdminKey(ctx context.Context, chatID int64, key string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_keys (chat_id, admin_key, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET admin_key = excluded.admin_key, updated_at = excluded.updated_at
	`, chatID, key, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save admin key for chat %d: %w", chatID, err)
	}
	return nil
}

func (s *Store) DeleteAdminKey(ctx context.Context, chatID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM admin_keys WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete admin key for chat %d: %w", chatID, err)
	}
	return nil
}
