package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xaenox/replydesk/internal/models"
)

// claimAttempts bounds the retry when a blocking claim disappears (swept or
// released) between the conditional upsert and the follow-up read.
const claimAttempts = 3

// dialect covers the few differences between the SQL backends. numbered
// selects $1, $2, ... placeholders instead of ?.
type dialect struct {
	name       string
	numbered   bool
	lockClause string
}

func (d dialect) bind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlStore implements Storage on database/sql for both Postgres and SQLite.
// Claim is a single INSERT ... ON CONFLICT DO UPDATE ... WHERE statement, so
// the check-then-claim is atomic in the database.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

const assignmentColumns = `id, thread_id, message_id, assigned_to, assigned_at, is_active`

const claimQuery = `
	INSERT INTO assignments (id, thread_id, message_id, assigned_to, assigned_at, is_active)
	VALUES (?, ?, ?, ?, ?, TRUE)
	ON CONFLICT (thread_id, message_id) DO UPDATE SET
		id = excluded.id,
		assigned_to = excluded.assigned_to,
		assigned_at = excluded.assigned_at,
		is_active = TRUE
	WHERE assignments.is_active = FALSE OR assignments.assigned_to = excluded.assigned_to
	RETURNING ` + assignmentColumns

const insertIfAbsentQuery = `
	INSERT INTO assignments (id, thread_id, message_id, assigned_to, assigned_at, is_active)
	VALUES (?, ?, ?, ?, ?, TRUE)
	ON CONFLICT (thread_id, message_id) DO NOTHING
	RETURNING id`

const overwriteQuery = `
	UPDATE assignments SET id = ?, assigned_to = ?, assigned_at = ?, is_active = TRUE
	WHERE thread_id = ? AND message_id = ?`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row rowScanner) (models.Assignment, error) {
	var a models.Assignment
	err := row.Scan(&a.ID, &a.ThreadID, &a.MessageID, &a.AssignedTo, &a.AssignedAt, &a.IsActive)
	a.AssignedAt = a.AssignedAt.UTC()
	return a, err
}

func (s *sqlStore) Claim(ctx context.Context, a models.Assignment) (models.Assignment, bool, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		row := s.db.QueryRowContext(ctx, s.dialect.bind(claimQuery),
			a.ID, a.ThreadID, a.MessageID, a.AssignedTo, a.AssignedAt.UTC())
		stored, err := scanAssignment(row)
		if err == nil {
			return stored, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return models.Assignment{}, false, fmt.Errorf("error claiming %s: %w", a.Key(), err)
		}

		current, err := s.Get(ctx, a.Key())
		if err != nil {
			return models.Assignment{}, false, err
		}
		if current != nil && current.IsActive && current.AssignedTo != a.AssignedTo {
			return *current, false, nil
		}
	}
	return models.Assignment{}, false, fmt.Errorf("error claiming %s: slot kept changing", a.Key())
}

// Replace installs a over whatever claim holds the key. A fresh key is
// decided by the insert's unique constraint; an existing row is locked before
// it is overwritten, so every caller sees the claim it actually displaced.
func (s *sqlStore) Replace(ctx context.Context, a models.Assignment) (*models.Assignment, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		var id string
		err := s.db.QueryRowContext(ctx, s.dialect.bind(insertIfAbsentQuery),
			a.ID, a.ThreadID, a.MessageID, a.AssignedTo, a.AssignedAt.UTC()).Scan(&id)
		if err == nil {
			return nil, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("error replacing claim %s: %w", a.Key(), err)
		}

		previous, err := s.overwrite(ctx, a)
		if err != nil {
			return nil, err
		}
		// nil means the row was swept between the two statements
		if previous != nil {
			return previous, nil
		}
	}
	return nil, fmt.Errorf("error replacing claim %s: slot kept changing", a.Key())
}

func (s *sqlStore) overwrite(ctx context.Context, a models.Assignment) (*models.Assignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE thread_id = ? AND message_id = ?` + s.dialect.lockClause
	previous, err := scanAssignment(tx.QueryRowContext(ctx, s.dialect.bind(query), a.ThreadID, a.MessageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading claim %s: %w", a.Key(), err)
	}

	if _, err := tx.ExecContext(ctx, s.dialect.bind(overwriteQuery),
		a.ID, a.AssignedTo, a.AssignedAt.UTC(), a.ThreadID, a.MessageID); err != nil {
		return nil, fmt.Errorf("error replacing claim %s: %w", a.Key(), err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing claim %s: %w", a.Key(), err)
	}
	return &previous, nil
}

func (s *sqlStore) Release(ctx context.Context, key models.Key) error {
	query := `UPDATE assignments SET is_active = FALSE WHERE thread_id = ? AND message_id = ? AND is_active = TRUE`
	if _, err := s.db.ExecContext(ctx, s.dialect.bind(query), key.ThreadID, key.MessageID); err != nil {
		return fmt.Errorf("error releasing claim %s: %w", key, err)
	}
	return nil
}

func (s *sqlStore) Get(ctx context.Context, key models.Key) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE thread_id = ? AND message_id = ?`
	a, err := scanAssignment(s.db.QueryRowContext(ctx, s.dialect.bind(query), key.ThreadID, key.MessageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading claim %s: %w", key, err)
	}
	return &a, nil
}

func (s *sqlStore) ActiveByThread(ctx context.Context, threadID string) ([]models.Assignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM assignments
		WHERE thread_id = ? AND is_active = TRUE
		ORDER BY assigned_at DESC, message_id ASC`

	rows, err := s.db.QueryContext(ctx, s.dialect.bind(query), threadID)
	if err != nil {
		return nil, fmt.Errorf("error querying claims: %w", err)
	}
	defer rows.Close()

	var out []models.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning claim: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.dialect.bind(`DELETE FROM assignments WHERE assigned_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("error deleting expired claims: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected: %w", err)
	}
	return rowsAffected, nil
}

func (s *sqlStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return nil
	}
	query := `INSERT INTO messages (id, thread_id, author_id, body, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, s.dialect.bind(query),
		msg.ID, msg.ThreadID, msg.AuthorID, msg.Body, msg.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("error appending message: %w", err)
	}
	return nil
}

func (s *sqlStore) ListMessages(ctx context.Context, threadID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, thread_id, author_id, body, created_at
		FROM messages
		WHERE thread_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{threadID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.AuthorID, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// oldest first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
