package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const sessionColumns = "id, review_ref, collective_status, collective_run_id, combined_transcript, ai_job_id, ai_response, insights_json, failed_step, excluded_files_json, error_message, created_at, updated_at"

// NewSession creates and persists an empty processing session.
func (s *Store) NewSession(ctx context.Context, reviewRef string) (*Session, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	id := uuid.NewString()

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO sessions (id, review_ref, collective_status, collective_run_id, created_at, updated_at)
         VALUES (?, ?, ?, '', ?, ?)`,
		id,
		nullableString(reviewRef),
		CollectiveNotStarted,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return s.GetSession(ctx, id)
}

// GetSession fetches a session by identifier. Returns nil when not found.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// SaveSession persists changes to an existing session.
func (s *Store) SaveSession(ctx context.Context, sess *Session) error {
	if sess == nil {
		return errors.New("session is nil")
	}
	sess.UpdatedAt = time.Now().UTC()

	excluded, err := marshalExcluded(sess.ExcludedFiles)
	if err != nil {
		return err
	}

	res, err := s.execWithRetry(
		ctx,
		`UPDATE sessions
         SET review_ref = ?, collective_status = ?, collective_run_id = ?,
             combined_transcript = ?, ai_job_id = ?, ai_response = ?,
             insights_json = ?, failed_step = ?, excluded_files_json = ?,
             error_message = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(sess.ReviewRef),
		string(sess.CollectiveStatus),
		sess.CollectiveRunID,
		nullableString(sess.CombinedTranscript),
		nullableString(sess.AIJobID),
		nullableString(sess.AIResponse),
		nullableString(sess.InsightsJSON),
		nullableString(string(sess.FailedStep)),
		nullableString(excluded),
		nullableString(sess.ErrorMessage),
		sess.UpdatedAt.Format(time.RFC3339Nano),
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update session: session %s not found", sess.ID)
	}
	return nil
}

// ListSessions returns all sessions ordered by creation time.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at`)
}

// NonTerminalSessions returns sessions whose collective phase has not reached a
// terminal outcome, i.e. the sessions a restarted supervisor must resume.
func (s *Store) NonTerminalSessions(ctx context.Context) ([]*Session, error) {
	return s.querySessions(
		ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE collective_status NOT IN (?, ?) ORDER BY created_at`,
		string(CollectiveComplete),
		string(CollectiveFailed),
	)
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// BeginCollectiveRun atomically records a collective run for the session. It
// succeeds at most once per session: the compare-and-set fails when a run id
// is already recorded, which is how the barrier achieves exactly-once firing
// across concurrent callers and process restarts.
func (s *Store) BeginCollectiveRun(ctx context.Context, sessionID, runID string) (bool, error) {
	if runID == "" {
		return false, errors.New("run id required")
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE sessions
         SET collective_run_id = ?, collective_status = ?, updated_at = ?
         WHERE id = ? AND collective_run_id = ''`,
		runID,
		string(CollectiveProcessingTranscriptions),
		time.Now().UTC().Format(time.RFC3339Nano),
		sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("begin collective run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("begin collective run: %w", err)
	}
	return affected == 1, nil
}

// ArchiveSession removes a session and its files. Sessions are never removed
// implicitly; this is the explicit archival path.
func (s *Store) ArchiveSession(ctx context.Context, id string) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	return nil
}

func marshalExcluded(files []string) (string, error) {
	if len(files) == 0 {
		return "", nil
	}
	data, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("marshal excluded files: %w", err)
	}
	return string(data), nil
}

func unmarshalExcluded(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var files []string
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		return nil, fmt.Errorf("unmarshal excluded files: %w", err)
	}
	return files, nil
}
