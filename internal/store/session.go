package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a recording session.
type SessionStatus string

const (
	SessionRecording SessionStatus = "recording"
	SessionCompleted SessionStatus = "completed"
	SessionStopped   SessionStatus = "stopped"
	SessionFailed    SessionStatus = "failed"
)

// Session records one period of sample collection for a gesture.
type Session struct {
	ID         string        `json:"id"`
	Gesture    string        `json:"gesture"`
	Target     int           `json:"target"`
	StartCount int           `json:"start_count"`
	Recorded   int           `json:"recorded"`
	Status     SessionStatus `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
}

// SessionRepository provides access to recording sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Start inserts a new session in the recording state and fills in its ID.
func (r *SessionRepository) Start(ctx context.Context, sess *Session) error {
	sess.ID = uuid.NewString()
	sess.Status = SessionRecording
	sess.StartedAt = time.Now().UTC()
	sess.EndedAt = nil

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recording_sessions (id, gesture, target, start_count, recorded, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Gesture, sess.Target, sess.StartCount, sess.Recorded, string(sess.Status), sess.StartedAt,
	)
	return err
}

// Finish marks a session as ended with the given status and sample count.
func (r *SessionRepository) Finish(ctx context.Context, id string, status SessionStatus, recorded int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE recording_sessions SET status = ?, recorded = ?, ended_at = ? WHERE id = ?`,
		string(status), recorded, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, gesture, target, start_count, recorded, status, started_at, ended_at
		 FROM recording_sessions WHERE id = ?`,
		id,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// List returns the most recent sessions, newest first. A gesture of ""
// matches every session.
func (r *SessionRepository) List(ctx context.Context, gesture string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, gesture, target, start_count, recorded, status, started_at, ended_at
		 FROM recording_sessions
		 WHERE ? = '' OR gesture = ?
		 ORDER BY started_at DESC
		 LIMIT ?`,
		gesture, gesture, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// DeleteByGesture removes the history of a deleted gesture.
func (r *SessionRepository) DeleteByGesture(ctx context.Context, gesture string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM recording_sessions WHERE gesture = ?`, gesture)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess   Session
		status string
		ended  sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.Gesture, &sess.Target, &sess.StartCount, &sess.Recorded,
		&status, &sess.StartedAt, &ended); err != nil {
		return nil, err
	}
	sess.Status = SessionStatus(status)
	if ended.Valid {
		t := ended.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}
