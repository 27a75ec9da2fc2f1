package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/darkodi/shortlink/internal/config"
	"github.com/darkodi/shortlink/internal/model"
)

var (
	ErrNotFound      = errors.New("url not found")
	ErrDuplicateCode = errors.New("short code already exists")
)

// Store is the persistence contract for mappings. Implementations enforce
// short code uniqueness and increment clicks atomically.
type Store interface {
	FindByCode(ctx context.Context, code string) (*model.Mapping, error)
	Insert(ctx context.Context, m *model.Mapping) error
	DeleteByCode(ctx context.Context, code string) (bool, error)
	// List returns mappings newest first plus the total count
	List(ctx context.Context, skip, limit int) ([]*model.Mapping, int64, error)
	IncrementClicks(ctx context.Context, code string, now time.Time) (*model.Mapping, error)
	Ping(ctx context.Context) error
	Close() error
}

// New opens the store selected by cfg.Driver
func New(cfg *config.DatabaseConfig) (Store, error) {
	var (
		store *SQLStore
		err   error
	)
	switch cfg.Driver {
	case "sqlite3":
		store, err = NewSQLiteStore(cfg.Path, cfg.QueryTimeout)
	case "postgres":
		store, err = NewPostgresStore(cfg.DSN, cfg.MaxOpenConns, cfg.QueryTimeout)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

const columns = `short_code, original_url, custom_domain, created_at, clicks, last_clicked_at, expires_at, user_id`

// dialect holds what differs between the SQL backends
type dialect struct {
	name        string
	schema      string
	findByCode  string
	insert      string
	deleteCode  string
	list        string
	count       string
	increment   string
	isDuplicate func(error) bool
}

// SQLStore implements Store on database/sql
type SQLStore struct {
	db      *sql.DB
	timeout time.Duration
	d       dialect
}

func newSQLStore(db *sql.DB, timeout time.Duration, d dialect) (*SQLStore, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &SQLStore{db: db, timeout: timeout, d: d}

	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", d.name, err)
	}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create %s schema: %w", d.name, err)
	}
	return s, nil
}

func (s *SQLStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// FindByCode returns ErrNotFound when no mapping has the code
func (s *SQLStore) FindByCode(ctx context.Context, code string) (*model.Mapping, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	m, err := scanMapping(s.db.QueryRowContext(ctx, s.d.findByCode, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// Insert returns ErrDuplicateCode when the unique index rejects the code
func (s *SQLStore) Insert(ctx context.Context, m *model.Mapping) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.d.insert,
		m.ShortCode,
		m.OriginalURL,
		nullString(m.CustomDomain),
		m.CreatedAt.UTC(),
		m.Clicks,
		nullTime(m.LastClickedAt),
		nullTime(m.ExpiresAt),
		nullString(m.UserID),
	)
	if err != nil && s.d.isDuplicate(err) {
		return ErrDuplicateCode
	}
	return err
}

// DeleteByCode reports whether a row was removed
func (s *SQLStore) DeleteByCode(ctx context.Context, code string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, s.d.deleteCode, code)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) List(ctx context.Context, skip, limit int) ([]*model.Mapping, int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// count first: the rows below hold the only SQLite connection until closed
	var total int64
	if err := s.db.QueryRowContext(ctx, s.d.count).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, s.d.list, limit, skip)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	mappings := make([]*model.Mapping, 0, limit)
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, 0, err
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return mappings, total, nil
}

// IncrementClicks bumps clicks and last_clicked_at with a single
// "clicks = clicks + 1" update and returns the updated mapping, or ErrNotFound
func (s *SQLStore) IncrementClicks(ctx context.Context, code string, now time.Time) (*model.Mapping, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, s.d.increment, now.UTC(), code)
	if err != nil {
		return nil, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	m, err := scanMapping(tx.QueryRowContext(ctx, s.d.findByCode, code))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// ============================================================
// HELPERS
// ============================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMapping(row rowScanner) (*model.Mapping, error) {
	var (
		m             model.Mapping
		customDomain  sql.NullString
		lastClickedAt sql.NullTime
		expiresAt     sql.NullTime
		userID        sql.NullString
	)

	err := row.Scan(
		&m.ShortCode,
		&m.OriginalURL,
		&customDomain,
		&m.CreatedAt,
		&m.Clicks,
		&lastClickedAt,
		&expiresAt,
		&userID,
	)
	if err != nil {
		return nil, err
	}

	m.CreatedAt = m.CreatedAt.UTC()
	m.CustomDomain = customDomain.String
	m.UserID = userID.String
	if lastClickedAt.Valid {
		t := lastClickedAt.Time.UTC()
		m.LastClickedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		m.ExpiresAt = &t
	}
	return &m, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
