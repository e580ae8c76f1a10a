package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"admindash/internal/db"
	"admindash/internal/models"
)

var ErrNotFound = errors.New("not found")

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

type Store struct {
	db      *sql.DB
	dialect string
}

func New(sqdb *sql.DB, dialect string) *Store {
	if dialect == "" {
		dialect = db.DialectSQLite
	}
	return &Store{db: sqdb, dialect: dialect}
}

func (s *Store) GetSetting(ctx context.Context, name string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT value FROM settings WHERE name=%s`, s.ph(1)), name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// PutSetting updates name in place and inserts it when no row matched.
func (s *Store) PutSetting(ctx context.Context, name, value string) error {
	now := time.Now().UTC()
	updateQ := fmt.Sprintf(`UPDATE settings SET value=%s, updated_at=%s WHERE name=%s`, s.ph(1), s.ph(2), s.ph(3))
	res, err := s.db.ExecContext(ctx, updateQ, value, now, name)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	// MySQL reports zero affected rows for an update that changes nothing.
	if _, err := s.GetSetting(ctx, name); err == nil {
		return nil
	}
	insertQ := fmt.Sprintf(`INSERT INTO settings(name,value,updated_at) VALUES(%s,%s,%s)`, s.ph(1), s.ph(2), s.ph(3))
	if _, err := s.db.ExecContext(ctx, insertQ, name, value, now); err != nil {
		if isUniqueErr(err) {
			_, err = s.db.ExecContext(ctx, updateQ, value, now, name)
		}
		return err
	}
	return nil
}

// Record appends e to the activity log, filling in ID and timestamp.
func (s *Store) Record(ctx context.Context, e models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	q := fmt.Sprintf(`INSERT INTO activity_log(id,action,target,outcome,message,created_at) VALUES(%s,%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	_, err := s.db.ExecContext(ctx, q, e.ID, e.Action, e.Target, e.Outcome, e.Message, e.CreatedAt)
	return err
}

// ListActivity returns entries newest first, optionally filtered by action.
func (s *Store) ListActivity(ctx context.Context, q models.AuditQuery) ([]models.AuditEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := ""
	args := []any{}
	idx := 1
	if action := strings.TrimSpace(q.Action); action != "" {
		where = fmt.Sprintf(" WHERE action=%s", s.ph(idx))
		args = append(args, action)
		idx++
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT id,action,target,outcome,message,created_at FROM activity_log%s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s`,
		where, s.ph(idx), s.ph(idx+1))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.AuditEntry, 0, limit)
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.Target, &e.Outcome, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) ph(i int) string {
	if s.dialect == db.DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func isUniqueErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}
