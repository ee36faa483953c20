package secrets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_settings (
	user_id    TEXT PRIMARY KEY,
	api_keys   BLOB,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// Store maps a user id to an encrypted blob of named secrets in SQLite.
//
// Writes for the same user are serialized with a per-user lock so concurrent
// SetAPIKeys calls cannot interleave; last writer wins. Data-path methods
// return sentinel values and log the cause, matching the rest of ragd's
// request-facing surface.
type Store struct {
	db     *sql.DB
	cipher *Cipher
	logger *zap.Logger

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewStore opens (creating if needed) the SQLite database at path and
// ensures the schema exists.
func NewStore(path string, cipher *Cipher, logger *zap.Logger) (*Store, error) {
	if cipher == nil {
		return nil, fmt.Errorf("cipher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("credential store initialized",
		zap.String("path", path),
		zap.Bool("encryption_enabled", cipher.Enabled()),
	)

	return &Store{
		db:        db,
		cipher:    cipher,
		logger:    logger,
		userLocks: make(map[string]*sync.Mutex),
	}, nil
}

// EncryptionEnabled reports whether secrets can be persisted.
func (s *Store) EncryptionEnabled() bool {
	return s.cipher.Enabled()
}

// userLock returns the write lock for a user id, creating it on first use.
func (s *Store) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[userID] = lock
	}
	return lock
}

// SetAPIKeys encrypts and upserts the API keys for a user.
//
// Returns false (after logging) when encryption is unavailable or the write
// fails. updated_at is bumped on every successful write.
func (s *Store) SetAPIKeys(ctx context.Context, userID string, apiKeys map[string]string) bool {
	if userID == "" {
		s.logger.Error("set api keys called with empty user id")
		return false
	}

	blob, err := s.cipher.EncryptKey(apiKeys)
	if err != nil {
		if errors.Is(err, ErrEncryptionUnavailable) {
			s.logger.Warn("cannot persist api keys: encryption disabled",
				zap.String("user_id", userID),
			)
		} else {
			s.logger.Error("failed to encrypt api keys",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
		return false
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, api_keys, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			api_keys   = excluded.api_keys,
			updated_at = excluded.updated_at
	`, userID, blob, now, now)
	if err != nil {
		s.logger.Error("failed to store api keys",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return false
	}

	s.logger.Debug("stored api keys", zap.String("user_id", userID))
	return true
}

// GetAPIKeys loads and decrypts the API keys for a user.
//
// Returns nil when no record exists or the stored blob cannot be
// authenticated; the two cases are deliberately indistinguishable.
func (s *Store) GetAPIKeys(ctx context.Context, userID string) map[string]string {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT api_keys FROM user_settings WHERE user_id = ?`, userID,
	).Scan(&blob)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error("failed to load api keys",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
		return nil
	}

	return s.cipher.DecryptKey(blob)
}

// DeleteAPIKeys removes the record for a user. Returns false when no record
// existed or the delete failed.
func (s *Store) DeleteAPIKeys(ctx context.Context, userID string) bool {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM user_settings WHERE user_id = ?`, userID)
	if err != nil {
		s.logger.Error("failed to delete api keys",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return false
	}

	affected, err := res.RowsAffected()
	if err != nil {
		s.logger.Error("failed to read rows affected",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return false
	}
	return affected > 0
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
