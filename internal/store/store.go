// Package store persists reminders, principals and sent message handles in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/stellarlinkco/remindclaw/internal/bus"
	"github.com/stellarlinkco/remindclaw/internal/period"
	"github.com/stellarlinkco/remindclaw/internal/reminder"
)

var reminderColumns = []string{
	"id", "chat_id", "owner_id", "text", "created_at", "next_fire_at",
	"planned_at", "last_fired_at", "recurrence", "status",
}

var principalColumns = []string{
	"id", "chat_id", "user_id", "user_name", "first_name", "last_name", "karma",
}

type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	loc *time.Location
}

type Option func(*Store)

// WithLocation sets the zone timestamps are returned in.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func Open(dbPath string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps the pragmas effective and serializes writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, loc: time.Local}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func exec(ctx context.Context, q queryer, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.ExecContext(ctx, query, args...)
}

func (s *Store) CreateReminder(ctx context.Context, r *reminder.Reminder) (int64, error) {
	rec, err := encodeRecurrence(r.Recurrence)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := exec(ctx, s.db, sq.Insert("reminders").
		Columns("chat_id", "owner_id", "text", "created_at", "next_fire_at", "planned_at", "last_fired_at", "recurrence", "status").
		Values(r.ChatID, r.OwnerID, r.Text, toMillis(r.CreatedAt), toMillis(r.NextFireAt), toMillis(r.PlannedAt),
			nullMillis(r.LastFiredAt), rec, int(r.Status)))
	if err != nil {
		return 0, fmt.Errorf("insert reminder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reminder id: %w", err)
	}
	return id, nil
}

func (s *Store) GetReminder(ctx context.Context, id int64) (*reminder.Reminder, error) {
	return s.getReminder(ctx, s.db, id)
}

func (s *Store) getReminder(ctx context.Context, q queryer, id int64) (*reminder.Reminder, error) {
	query, args, err := sq.Select(reminderColumns...).From("reminders").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	r, err := s.scanReminder(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reminder.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder %d: %w", id, err)
	}
	return r, nil
}

// UpdateReminder replaces every mutable column of r.
func (s *Store) UpdateReminder(ctx context.Context, r *reminder.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateReminder(ctx, s.db, r)
}

func (s *Store) updateReminder(ctx context.Context, q queryer, r *reminder.Reminder) error {
	rec, err := encodeRecurrence(r.Recurrence)
	if err != nil {
		return err
	}
	res, err := exec(ctx, q, sq.Update("reminders").
		Set("text", r.Text).
		Set("next_fire_at", toMillis(r.NextFireAt)).
		Set("planned_at", toMillis(r.PlannedAt)).
		Set("last_fired_at", nullMillis(r.LastFiredAt)).
		Set("recurrence", rec).
		Set("status", int(r.Status)).
		Where(sq.Eq{"id": r.ID}))
	if err != nil {
		return fmt.Errorf("update reminder %d: %w", r.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return reminder.ErrNotFound
	}
	return nil
}

func (s *Store) DueReminders(ctx context.Context, now time.Time) ([]*reminder.Reminder, error) {
	return s.listReminders(ctx, sq.Select(reminderColumns...).From("reminders").
		Where(sq.Eq{"status": int(reminder.StatusActive)}).
		Where(sq.LtOrEq{"next_fire_at": toMillis(now)}).
		OrderBy("id ASC"))
}

func (s *Store) ActiveReminders(ctx context.Context, chatID int64) ([]*reminder.Reminder, error) {
	return s.listReminders(ctx, sq.Select(reminderColumns...).From("reminders").
		Where(sq.Eq{"status": int(reminder.StatusActive), "chat_id": chatID}).
		OrderBy("next_fire_at ASC", "id ASC"))
}

func (s *Store) listReminders(ctx context.Context, b sq.SelectBuilder) ([]*reminder.Reminder, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	var out []*reminder.Reminder
	for rows.Next() {
		r, err := s.scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}
	return out, nil
}

// Mutate loads the reminder, applies fn and writes the reminder and the
// owner's karma delta in one transaction.
func (s *Store) Mutate(ctx context.Context, id int64, fn reminder.MutateFunc) (*reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	r, err := s.getReminder(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	delta, err := fn(r)
	if err != nil {
		return nil, err
	}
	if err := s.updateReminder(ctx, tx, r); err != nil {
		return nil, err
	}
	if delta != 0 {
		if _, err := exec(ctx, tx, sq.Update("principals").
			Set("karma", sq.Expr("karma + ?", delta)).
			Where(sq.Eq{"id": r.OwnerID})); err != nil {
			return nil, fmt.Errorf("adjust karma of %d: %w", r.OwnerID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return r, nil
}

// EnsurePrincipal returns the principal for (ChatID, UserID), creating it
// with the default karma. Names are refreshed on every call.
func (s *Store) EnsurePrincipal(ctx context.Context, p reminder.Principal) (*reminder.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := exec(ctx, s.db, sq.Insert("principals").
		Columns("chat_id", "user_id", "user_name", "first_name", "last_name", "karma").
		Values(p.ChatID, p.UserID, p.UserName, p.FirstName, p.LastName, reminder.DefaultKarma).
		Suffix("ON CONFLICT (chat_id, user_id) DO UPDATE SET user_name = excluded.user_name, first_name = excluded.first_name, last_name = excluded.last_name"))
	if err != nil {
		return nil, fmt.Errorf("upsert principal: %w", err)
	}
	return s.findPrincipal(ctx, sq.Eq{"chat_id": p.ChatID, "user_id": p.UserID})
}

func (s *Store) GetPrincipal(ctx context.Context, id int64) (*reminder.Principal, error) {
	return s.findPrincipal(ctx, sq.Eq{"id": id})
}

func (s *Store) findPrincipal(ctx context.Context, where sq.Eq) (*reminder.Principal, error) {
	query, args, err := sq.Select(principalColumns...).From("principals").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var p reminder.Principal
	var userName, firstName, lastName sql.NullString
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&p.ID, &p.ChatID, &p.UserID, &userName, &firstName, &lastName, &p.Karma)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reminder.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get principal: %w", err)
	}
	p.UserName, p.FirstName, p.LastName = userName.String, firstName.String, lastName.String
	return &p, nil
}

// TrackMessage remembers a message the bot sent so it can be cleaned up.
func (s *Store) TrackMessage(ctx context.Context, h bus.MessageHandle, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := exec(ctx, s.db, sq.Insert("sent_messages").
		Columns("chat_id", "message_id", "sent_at").
		Values(h.ChatID, h.MessageID, toMillis(sentAt)).
		Suffix("ON CONFLICT (chat_id, message_id) DO NOTHING"))
	if err != nil {
		return fmt.Errorf("track message: %w", err)
	}
	return nil
}

// ExpiredMessages lists tracked messages sent before the cutoff, oldest first.
func (s *Store) ExpiredMessages(ctx context.Context, before time.Time) ([]bus.MessageHandle, error) {
	query, args, err := sq.Select("chat_id", "message_id").From("sent_messages").
		Where(sq.Lt{"sent_at": toMillis(before)}).
		OrderBy("sent_at ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sent messages: %w", err)
	}
	defer rows.Close()

	var out []bus.MessageHandle
	for rows.Next() {
		var h bus.MessageHandle
		if err := rows.Scan(&h.ChatID, &h.MessageID); err != nil {
			return nil, fmt.Errorf("scan sent message: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) ForgetMessage(ctx context.Context, h bus.MessageHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := exec(ctx, s.db, sq.Delete("sent_messages").
		Where(sq.Eq{"chat_id": h.ChatID, "message_id": h.MessageID}))
	if err != nil {
		return fmt.Errorf("forget message: %w", err)
	}
	return nil
}

// Stats is a compact snapshot used by status reporting.
type Stats struct {
	ActiveReminders  int
	StoppedReminders int
	Principals       int
	TrackedMessages  int
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(1) FROM reminders WHERE status = 1),
			(SELECT COUNT(1) FROM reminders WHERE status = 0),
			(SELECT COUNT(1) FROM principals),
			(SELECT COUNT(1) FROM sent_messages)
	`).Scan(&st.ActiveReminders, &st.StoppedReminders, &st.Principals, &st.TrackedMessages)
	if err != nil {
		return Stats{}, fmt.Errorf("store stats: %w", err)
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanReminder(row rowScanner) (*reminder.Reminder, error) {
	var (
		r                              reminder.Reminder
		createdAt, nextFireAt, planned int64
		lastFiredAt                    sql.NullInt64
		recurrence                     sql.NullString
		status                         int
	)
	if err := row.Scan(&r.ID, &r.ChatID, &r.OwnerID, &r.Text, &createdAt, &nextFireAt,
		&planned, &lastFiredAt, &recurrence, &status); err != nil {
		return nil, err
	}
	r.CreatedAt = s.fromMillis(createdAt)
	r.NextFireAt = s.fromMillis(nextFireAt)
	r.PlannedAt = s.fromMillis(planned)
	if lastFiredAt.Valid {
		t := s.fromMillis(lastFiredAt.Int64)
		r.LastFiredAt = &t
	}
	rec, err := decodeRecurrence(recurrence)
	if err != nil {
		return nil, err
	}
	r.Recurrence = rec
	r.Status = reminder.Status(status)
	return &r, nil
}

func encodeRecurrence(d *period.Duration) (sql.NullString, error) {
	if d == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode recurrence: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeRecurrence(v sql.NullString) (*period.Duration, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var d period.Duration
	if err := json.Unmarshal([]byte(v.String), &d); err != nil {
		return nil, fmt.Errorf("decode recurrence %q: %w", v.String, err)
	}
	if d.IsZero() {
		return nil, nil
	}
	return &d, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func (s *Store) fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).In(s.loc)
}
