package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"gigmaster/internal/event"
	logx "gigmaster/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the SQLite-backed persistence layer. A single instance is shared
// by the chat handlers and the notifier; SetMaxOpenConns(1) serializes
// writers, which is the mode SQLite is happiest in.
type Store struct {
	db      *sql.DB
	maxSubs int
	log     logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if cfg.MaxSubscriptions <= 0 {
		return nil, errors.New("max subscriptions must be positive")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	s := &Store{db: db, maxSubs: cfg.MaxSubscriptions, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RegisterUser records a user on first contact. Re-registration refreshes
// the chat id and profile fields but is otherwise a no-op.
func (s *Store) RegisterUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, chat_id, username, first_name, last_name, created_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   chat_id=excluded.chat_id,
		   username=excluded.username,
		   first_name=excluded.first_name,
		   last_name=excluded.last_name`,
		u.ID, u.ChatID, u.Username, u.FirstName, u.LastName,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListUsers returns every registered user, in registration id order.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, username, first_name, last_name FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.ChatID, &u.Username, &u.FirstName, &u.LastName); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) userExists(ctx context.Context, userID int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id %d", ErrUserNotFound, userID)
	}
	return err
}

// Subscriptions returns the user's subscription set for one category, in
// insertion order.
func (s *Store) Subscriptions(ctx context.Context, userID int64, cat event.Category) ([]string, error) {
	if err := s.userExists(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM subscriptions WHERE user_id = ? AND category = ? ORDER BY created_at, name`,
		userID, cat)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// AddSubscription adds name to the user's set for cat. Adding a name that is
// already present succeeds without growing the set; an add that would exceed
// the configured cap fails with ErrSubscriptionLimit and leaves the set
// untouched.
func (s *Store) AddSubscription(ctx context.Context, userID int64, cat event.Category, name string) error {
	if err := s.userExists(ctx, userID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var present int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE user_id = ? AND category = ? AND name = ?`,
		userID, cat, name).Scan(&present)
	if err != nil {
		return err
	}
	if present > 0 {
		return nil
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE user_id = ? AND category = ?`,
		userID, cat).Scan(&count)
	if err != nil {
		return err
	}
	if count >= s.maxSubs {
		return fmt.Errorf("%w: %d/%d", ErrSubscriptionLimit, count, s.maxSubs)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscriptions(user_id, category, name, created_at) VALUES(?,?,?,?)`,
		userID, cat, name, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveSubscription removes name from the user's set for cat. Removing a
// name that is not present is a no-op.
func (s *Store) RemoveSubscription(ctx context.Context, userID int64, cat event.Category, name string) error {
	if err := s.userExists(ctx, userID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE user_id = ? AND category = ? AND name = ?`,
		userID, cat, name)
	return err
}

// IsNotified reports whether the user was already told about the event
// identified by key within cat.
func (s *Store) IsNotified(ctx context.Context, userID int64, cat event.Category, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM notified WHERE user_id = ? AND category = ? AND event_key = ?`,
		userID, cat, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkNotified records that the user has been told about each event. Keys
// already present are kept; the call is a set union, safe to repeat.
func (s *Store) MarkNotified(ctx context.Context, userID int64, cat event.Category, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := s.userExists(ctx, userID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, ev := range events {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO notified(user_id, category, event_key, notified_at) VALUES(?,?,?,?)`,
			userID, cat, ev.Key(), now)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
