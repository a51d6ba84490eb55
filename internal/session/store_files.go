package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const fileColumns = "id, session_id, position, original_filename, source_path, status, sub_progress, retry_count, error_message, last_live_status, staged_path, converted_path, transcription_job_id, transcript, transcript_language, created_at, updated_at"

// RegisterFile adds a new audio file to a session in Pending state. Position
// is assigned from the current file count, fixing the transcript merge order.
func (s *Store) RegisterFile(ctx context.Context, sessionID, originalFilename, sourcePath string) (*AudioFile, error) {
	if originalFilename == "" {
		return nil, errors.New("original filename required")
	}
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("register file: session %s not found", sessionID)
	}
	if sess.CollectiveStarted() {
		return nil, fmt.Errorf("register file: session %s already entered the collective phase", sessionID)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	id := uuid.NewString()

	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO audio_files (
            id, session_id, position, original_filename, source_path,
            status, sub_progress, last_live_status, created_at, updated_at
        ) VALUES (?, ?, (SELECT COUNT(1) FROM audio_files WHERE session_id = ?), ?, ?, ?, 0, ?, ?, ?)`,
		id,
		sessionID,
		sessionID,
		originalFilename,
		nullableString(sourcePath),
		StatusPending,
		StatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert audio file: %w", err)
	}

	return s.GetFile(ctx, sessionID, id)
}

// GetFile fetches a single audio file. Returns nil when not found.
func (s *Store) GetFile(ctx context.Context, sessionID, fileID string) (*AudioFile, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+fileColumns+` FROM audio_files WHERE session_id = ? AND id = ?`,
		sessionID,
		fileID,
	)
	file, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return file, nil
}

// FilesForSession returns the session's files in registration order.
func (s *Store) FilesForSession(ctx context.Context, sessionID string) ([]*AudioFile, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+fileColumns+` FROM audio_files WHERE session_id = ? ORDER BY position`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query session files: %w", err)
	}
	defer rows.Close()

	var files []*AudioFile
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// SaveFile persists changes to an existing audio file. Only this file's row is
// written, so concurrent saves for different files in one session do not
// contend on each other's state.
func (s *Store) SaveFile(ctx context.Context, file *AudioFile) error {
	if file == nil {
		return errors.New("file is nil")
	}
	file.UpdatedAt = time.Now().UTC()

	res, err := s.execWithRetry(
		ctx,
		`UPDATE audio_files
         SET status = ?, sub_progress = ?, retry_count = ?, error_message = ?,
             last_live_status = ?, staged_path = ?, converted_path = ?,
             transcription_job_id = ?, transcript = ?, transcript_language = ?,
             updated_at = ?
         WHERE id = ?`,
		string(file.Status),
		file.SubProgress,
		file.RetryCount,
		nullableString(file.ErrorMessage),
		string(file.LastLiveStatus),
		nullableString(file.StagedPath),
		nullableString(file.ConvertedPath),
		nullableString(file.TranscriptionJobID),
		nullableString(file.Transcript),
		nullableString(file.TranscriptLanguage),
		file.UpdatedAt.Format(time.RFC3339Nano),
		file.ID,
	)
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update file: file %s not found", file.ID)
	}
	return nil
}

// ResetFileForRetry moves a failed file back to its recorded pre-failure
// status and clears the error. The update is conditional on the file still
// being failed, so retrying a live file changes nothing.
func (s *Store) ResetFileForRetry(ctx context.Context, sessionID, fileID string) (*AudioFile, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE audio_files
         SET status = last_live_status, sub_progress = 0, error_message = NULL,
             retry_count = retry_count + 1, updated_at = ?
         WHERE session_id = ? AND id = ? AND status IN (?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		sessionID,
		fileID,
		string(StatusFailed),
		string(StatusFailedMp3),
	)
	if err != nil {
		return nil, fmt.Errorf("reset file for retry: %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("reset file for retry: %w", err)
	}
	// A live file matches no row and comes back unchanged.
	return s.GetFile(ctx, sessionID, fileID)
}

// MarkSessionFilesComplete marks every file in the session Complete. Failure
// states are preserved so excluded files remain inspectable.
func (s *Store) MarkSessionFilesComplete(ctx context.Context, sessionID string) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE audio_files
         SET status = ?, sub_progress = 1, updated_at = ?
         WHERE session_id = ? AND status NOT IN (?, ?)`,
		string(StatusComplete),
		time.Now().UTC().Format(time.RFC3339Nano),
		sessionID,
		string(StatusFailed),
		string(StatusFailedMp3),
	)
	if err != nil {
		return fmt.Errorf("mark files complete: %w", err)
	}
	return nil
}
