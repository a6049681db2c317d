package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/CedarClinic/ClinicPipe/internal/models"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

//go:embed migrations_postgres.sql
var postgresMigrations string

// SQLStore persists sessions in SQLite or PostgreSQL. The driver is chosen
// from the DSN shape, so deployments switch backends by configuration alone.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	ttl      time.Duration
}

// NewSQLStore opens (and migrates) a SQL-backed session store. A DSN that
// looks like a PostgreSQL connection string selects lib/pq; anything else is
// treated as a SQLite file path.
func NewSQLStore(opts ...Option) (*SQLStore, error) {
	cfg := Opts{TTL: DefaultTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("session store DSN is required")
	}

	driver, migrations := "sqlite3", sqliteMigrations
	postgres := DetectDSNType(cfg.DSN) == "postgres"
	if postgres {
		driver, migrations = "postgres", postgresMigrations
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to session database: %w", err)
	}
	if _, err := db.Exec(migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run session migrations: %w", err)
	}
	return &SQLStore{db: db, postgres: postgres, ttl: cfg.TTL}, nil
}

// rebind converts ?-style placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

// Load implements Store. Expired rows are treated as absent.
func (s *SQLStore) Load(ctx context.Context, userID string) (*models.Session, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	var data []byte
	var expiresAt time.Time
	query := s.rebind("SELECT data, expires_at FROM sessions WHERE user_id = ?")
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session for %s: %w", userID, err)
	}
	if time.Now().After(expiresAt) {
		return nil, nil
	}
	return decodeSession(userID, data)
}

// Save implements Store, refreshing the expiry on every write.
func (s *SQLStore) Save(ctx context.Context, sess *models.Session) error {
	if sess == nil || sess.UserID == "" {
		return models.ErrEmptyUserID
	}
	data, err := encodeSession(sess)
	if err != nil {
		return err
	}
	query := s.rebind(`INSERT INTO sessions (user_id, data, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			data = excluded.data,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`)
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, query, sess.UserID, data, now.Add(s.ttl), now); err != nil {
		return fmt.Errorf("failed to save session for %s: %w", sess.UserID, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return models.ErrEmptyUserID
	}
	query := s.rebind("DELETE FROM sessions WHERE user_id = ?")
	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to delete session for %s: %w", userID, err)
	}
	return nil
}

// PurgeExpired removes rows past their expiry. Intended to run on a schedule.
func (s *SQLStore) PurgeExpired(ctx context.Context) error {
	query := s.rebind("DELETE FROM sessions WHERE expires_at < ?")
	if _, err := s.db.ExecContext(ctx, query, time.Now()); err != nil {
		return fmt.Errorf("failed to purge expired sessions: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
