package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/baozi-iot/baozi-node/internal/infrastructure/database"
	"github.com/baozi-iot/baozi-node/migrations"
)

// Namespaces used by the node.
const (
	NamespaceBoot = "boot"
	NamespaceLink = "link"
)

// Keys in NamespaceLink.
const (
	KeySSID     = "ssid"
	KeyPassword = "password"
)

var (
	// ErrNotFound is returned when a key has no value.
	ErrNotFound = errors.New("settings: key not found")

	// ErrInvalidKey is returned for an empty namespace or key.
	ErrInvalidKey = errors.New("settings: namespace and key are required")
)

// Store reads and writes settings.
type Store struct {
	db *database.DB
}

// Open opens the database described by cfg, applies the embedded
// migrations and returns a store that owns the database.
func Open(ctx context.Context, cfg database.Config) (*Store, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("migrating settings database: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already migrated database.
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// HealthCheck verifies the database answers queries.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value of namespace/key or ErrNotFound.
func (s *Store) Get(ctx context.Context, namespace, key string) (string, error) {
	if namespace == "" || key == "" {
		return "", ErrInvalidKey
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, key)
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// Set stores value under namespace/key, replacing any previous value.
func (s *Store) Set(ctx context.Context, namespace, key, value string) error {
	if namespace == "" || key == "" {
		return ErrInvalidKey
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE
		SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing setting %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes namespace/key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM settings WHERE namespace = ? AND key = ?",
		namespace, key,
	); err != nil {
		return fmt.Errorf("deleting setting %s/%s: %w", namespace, key, err)
	}
	return nil
}

// GetInt returns an integer setting.
func (s *Store) GetInt(ctx context.Context, namespace, key string) (int, error) {
	raw, err := s.Get(ctx, namespace, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("setting %s/%s is not an integer: %w", namespace, key, err)
	}
	return n, nil
}

// SetInt stores an integer setting.
func (s *Store) SetInt(ctx context.Context, namespace, key string, value int) error {
	return s.Set(ctx, namespace, key, strconv.Itoa(value))
}

// Credentials are stored link credentials.
type Credentials struct {
	SSID     string
	Password string
}

// LinkCredentials returns the stored link credentials or ErrNotFound.
func (s *Store) LinkCredentials(ctx context.Context) (Credentials, error) {
	ssid, err := s.Get(ctx, NamespaceLink, KeySSID)
	if err != nil {
		return Credentials{}, err
	}
	password, err := s.Get(ctx, NamespaceLink, KeyPassword)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{SSID: ssid, Password: password}, nil
}

// SaveLinkCredentials stores both credentials atomically.
func (s *Store) SaveLinkCredentials(ctx context.Context, c Credentials) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		for key, value := range map[string]string{KeySSID: c.SSID, KeyPassword: c.Password} {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO settings (namespace, key, value, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (namespace, key) DO UPDATE
				SET value = excluded.value, updated_at = excluded.updated_at`,
				NamespaceLink, key, value, now,
			); err != nil {
				return fmt.Errorf("writing link credential %s: %w", key, err)
			}
		}
		return nil
	})
}

// ForgetLinkCredentials removes the stored link credentials.
func (s *Store) ForgetLinkCredentials(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE namespace = ?", NamespaceLink); err != nil {
		return fmt.Errorf("deleting link credentials: %w", err)
	}
	return nil
}
