// Package session provides durable per-user session storage with TTL.
//
// The store is a last-write-wins key-value resource: load at the start of a
// webhook invocation, save at the end. Backends: in-memory, Redis, and SQL
// (SQLite or PostgreSQL, auto-detected from the DSN).
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/CedarClinic/ClinicPipe/internal/models"
)

// DefaultTTL is the session inactivity expiry applied when none is configured.
const DefaultTTL = 24 * time.Hour

// Store is the pluggable session persistence abstraction.
type Store interface {
	// Load returns the session for a user, or (nil, nil) when absent/expired.
	Load(ctx context.Context, userID string) (*models.Session, error)
	// Save persists the session and refreshes its TTL.
	Save(ctx context.Context, s *models.Session) error
	// Delete removes the session for a user.
	Delete(ctx context.Context, userID string) error
	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for session stores.
type Opts struct {
	DSN string
	TTL time.Duration
}

// Option defines a configuration option for session stores.
type Option func(*Opts)

// WithDSN sets the backend connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithTTL sets the session inactivity expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// DetectDSNType reports "postgres", "redis", or "sqlite" for a DSN, so one
// configuration knob can select the backend.
func DetectDSNType(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"),
		strings.Contains(dsn, "host="), strings.Contains(dsn, "dbname="):
		return "postgres"
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		return "redis"
	default:
		return "sqlite"
	}
}

// encodeSession serializes a session for storage.
func encodeSession(s *models.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session for %s: %w", s.UserID, err)
	}
	return data, nil
}

// decodeSession deserializes a stored session, tolerating schema drift:
// unknown fields are ignored and missing fields are defaulted, never rejected.
func decodeSession(userID string, data []byte) (*models.Session, error) {
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session for %s: %w", userID, err)
	}
	if s.UserID == "" {
		s.UserID = userID
	}
	s.Normalize()
	return &s, nil
}
