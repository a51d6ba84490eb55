package session

import (
	"database/sql"
	"fmt"
	"time"
)

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		id            string
		reviewRef     sql.NullString
		collective    string
		runID         string
		combined      sql.NullString
		aiJobID       sql.NullString
		aiResponse    sql.NullString
		insights      sql.NullString
		failedStep    sql.NullString
		excludedJSON  sql.NullString
		errorMessage  sql.NullString
		createdRaw    string
		updatedRaw    string
	)

	if err := scanner.Scan(
		&id,
		&reviewRef,
		&collective,
		&runID,
		&combined,
		&aiJobID,
		&aiResponse,
		&insights,
		&failedStep,
		&excludedJSON,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	createdAt, err := parseTimestamp(createdRaw)
	if err != nil {
		return nil, fmt.Errorf("parse session created_at: %w", err)
	}
	updatedAt, err := parseTimestamp(updatedRaw)
	if err != nil {
		return nil, fmt.Errorf("parse session updated_at: %w", err)
	}
	excluded, err := unmarshalExcluded(excludedJSON.String)
	if err != nil {
		return nil, err
	}

	return &Session{
		ID:                 id,
		ReviewRef:          reviewRef.String,
		CollectiveStatus:   CollectiveStatus(collective),
		CollectiveRunID:    runID,
		CombinedTranscript: combined.String,
		AIJobID:            aiJobID.String,
		AIResponse:         aiResponse.String,
		InsightsJSON:       insights.String,
		FailedStep:         CollectiveStatus(failedStep.String),
		ExcludedFiles:      excluded,
		ErrorMessage:       errorMessage.String,
		CreatedAt:          createdAt,
		UpdatedAt:          updatedAt,
	}, nil
}

func scanFile(scanner interface{ Scan(dest ...any) error }) (*AudioFile, error) {
	var (
		id               string
		sessionID        string
		position         int
		originalFilename string
		sourcePath       sql.NullString
		statusStr        string
		subProgress      float64
		retryCount       int
		errorMessage     sql.NullString
		lastLiveStatus   string
		stagedPath       sql.NullString
		convertedPath    sql.NullString
		transcriptionJob sql.NullString
		transcript       sql.NullString
		transcriptLang   sql.NullString
		createdRaw       string
		updatedRaw       string
	)

	if err := scanner.Scan(
		&id,
		&sessionID,
		&position,
		&originalFilename,
		&sourcePath,
		&statusStr,
		&subProgress,
		&retryCount,
		&errorMessage,
		&lastLiveStatus,
		&stagedPath,
		&convertedPath,
		&transcriptionJob,
		&transcript,
		&transcriptLang,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	createdAt, err := parseTimestamp(createdRaw)
	if err != nil {
		return nil, fmt.Errorf("parse file created_at: %w", err)
	}
	updatedAt, err := parseTimestamp(updatedRaw)
	if err != nil {
		return nil, fmt.Errorf("parse file updated_at: %w", err)
	}

	return &AudioFile{
		ID:                 id,
		SessionID:          sessionID,
		Position:           position,
		OriginalFilename:   originalFilename,
		SourcePath:         sourcePath.String,
		Status:             FileStatus(statusStr),
		SubProgress:        subProgress,
		RetryCount:         retryCount,
		ErrorMessage:       errorMessage.String,
		LastLiveStatus:     FileStatus(lastLiveStatus),
		StagedPath:         stagedPath.String,
		ConvertedPath:      convertedPath.String,
		TranscriptionJobID: transcriptionJob.String,
		Transcript:         transcript.String,
		TranscriptLanguage: transcriptLang.String,
		CreatedAt:          createdAt,
		UpdatedAt:          updatedAt,
	}, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
