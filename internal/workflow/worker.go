package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"chorus/internal/config"
	"chorus/internal/fileutil"
	"chorus/internal/logging"
	"chorus/internal/services"
	"chorus/internal/services/gladia"
	"chorus/internal/session"
	"chorus/internal/textutil"
)

// FileWorker drives one audio file through the Phase-1 status ladder. Every
// step persists its outcome before the worker moves on, so a crash at any
// point re-runs at most the interrupted step after restart.
type FileWorker struct {
	cfg         *config.Config
	store       *session.Store
	converter   Converter
	transcriber Transcriber
	logger      *slog.Logger

	transcriptPoll pollPolicy
}

// NewFileWorker constructs a worker over the shared store and service clients.
func NewFileWorker(cfg *config.Config, store *session.Store, converter Converter, transcriber Transcriber, logger *slog.Logger) *FileWorker {
	return &FileWorker{
		cfg:         cfg,
		store:       store,
		converter:   converter,
		transcriber: transcriber,
		logger:      logging.NewComponentLogger(logger, "file-worker"),
		transcriptPoll: pollPolicy{
			Interval: time.Duration(cfg.Gladia.PollIntervalSeconds) * time.Second,
			Cap:      time.Duration(cfg.Workflow.PollBackoffCapSeconds) * time.Second,
			Timeout:  time.Duration(cfg.Gladia.PollTimeoutSeconds) * time.Second,
		},
	}
}

// Run advances the file until it reaches the barrier or fails. Failures are
// persisted on the file and returned; the caller decides whether the session
// can still proceed.
func (w *FileWorker) Run(ctx context.Context, file *session.AudioFile) error {
	ctx = services.WithSessionID(ctx, file.SessionID)
	ctx = services.WithFileID(ctx, file.ID)
	logger := logging.WithContext(ctx, w.logger)

	for file.IsLive() && !session.AtOrPastBarrier(file.Status) {
		if err := ctx.Err(); err != nil {
			return err
		}
		before := file.Status
		if err := w.Advance(ctx, file); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.Error("file step failed",
				logging.String(logging.FieldStatus, string(before)),
				logging.Error(err))
			return err
		}
		logger.Info("file advanced",
			logging.String(logging.FieldEventType, "file_step"),
			logging.String("from", string(before)),
			logging.String("to", string(file.Status)))
	}
	return nil
}

// Advance performs the work for the file's current status and persists the
// resulting state. It is safe to call again after a crash: each step either
// re-does idempotent work or re-submits a fresh remote job.
func (w *FileWorker) Advance(ctx context.Context, file *session.AudioFile) error {
	var err error
	switch file.Status {
	case session.StatusPending:
		err = w.persistStep(ctx, file, session.StatusUploading)
	case session.StatusUploading:
		err = w.stageFile(ctx, file)
	case session.StatusConvertingToMp3:
		err = w.convert(ctx, file)
	case session.StatusFinishedConvertingToMp3:
		err = w.persistStep(ctx, file, session.StatusUploadingToGladia)
	case session.StatusUploadingToGladia:
		err = w.submitTranscription(ctx, file)
	case session.StatusFinishedUploadingToGladia:
		err = w.persistStep(ctx, file, session.StatusWaitingToDownloadTranscripts)
	case session.StatusWaitingToDownloadTranscripts:
		err = w.awaitTranscription(ctx, file)
	case session.StatusDownloadingTranscripts:
		err = w.downloadTranscript(ctx, file)
	case session.StatusTranscriptsDownloaded:
		err = w.persistStep(ctx, file, session.StatusWaitingForOtherFiles)
	case session.StatusWaitingForOtherFiles, session.StatusComplete:
		return nil
	default:
		err = services.Wrap(services.ErrValidation, "workflow", "advance",
			fmt.Sprintf("no step for status %q", file.Status), nil)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		w.failFile(ctx, file, err)
	}
	return err
}

func (w *FileWorker) persistStep(ctx context.Context, file *session.AudioFile, next session.FileStatus) error {
	file.SetProgress(next, 0)
	if err := w.store.SaveFile(ctx, file); err != nil {
		return services.Wrap(services.ErrPersistence, "workflow", "advance", "persist status", err)
	}
	return nil
}

// stageFile copies the source recording into the staging directory, reporting
// sub-progress as bytes land.
func (w *FileWorker) stageFile(ctx context.Context, file *session.AudioFile) error {
	if _, err := os.Stat(file.SourcePath); err != nil {
		return services.Wrap(services.ErrValidation, "workflow", "stage", "stat source file", err)
	}

	destDir := filepath.Join(w.cfg.Paths.StagingDir, file.SessionID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return services.Wrap(services.ErrPersistence, "workflow", "stage", "create staging directory", err)
	}
	name := textutil.SanitizeFileName(filepath.Base(file.OriginalFilename))
	if name == "" || name == "." {
		name = filepath.Base(file.SourcePath)
	}
	destPath := filepath.Join(destDir, name)

	err := fileutil.CopyFileVerifiedProgress(file.SourcePath, destPath, func(fraction float64) {
		file.SetProgress(session.StatusUploading, fraction)
		// Sub-progress persistence is advisory; a failed write only
		// coarsens the progress bar.
		_ = w.store.SaveFile(ctx, file)
	})
	if err != nil {
		return services.Wrap(services.ErrPersistence, "workflow", "stage", "copy source file", err)
	}

	file.StagedPath = destPath
	return w.persistStep(ctx, file, session.StatusConvertingToMp3)
}

func (w *FileWorker) convert(ctx context.Context, file *session.AudioFile) error {
	sourcePath := file.StagedPath
	if sourcePath == "" {
		sourcePath = file.SourcePath
	}
	destDir := filepath.Join(w.cfg.Paths.ConvertedDir, file.SessionID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return services.Wrap(services.ErrPersistence, "workflow", "convert", "create converted directory", err)
	}

	convertedPath, err := w.converter.Convert(ctx, sourcePath, destDir)
	if err != nil {
		return err
	}
	file.ConvertedPath = convertedPath
	return w.persistStep(ctx, file, session.StatusFinishedConvertingToMp3)
}

func (w *FileWorker) submitTranscription(ctx context.Context, file *session.AudioFile) error {
	jobID, err := w.transcriber.Submit(ctx, file.ConvertedPath)
	if err != nil {
		return err
	}
	file.TranscriptionJobID = jobID
	return w.persistStep(ctx, file, session.StatusFinishedUploadingToGladia)
}

// awaitTranscription polls the remote job until it reaches a terminal state.
// The transcript itself is fetched by the following step so the terminal poll
// result is persisted before any payload handling.
func (w *FileWorker) awaitTranscription(ctx context.Context, file *session.AudioFile) error {
	err := pollUntil(ctx, w.transcriptPoll, "await-transcription", func(ctx context.Context) (bool, error) {
		result, err := w.transcriber.Poll(ctx, file.TranscriptionJobID)
		if err != nil {
			return false, err
		}
		switch result.State {
		case gladia.JobDone:
			return true, nil
		case gladia.JobFailed:
			return false, services.Wrap(services.ErrRemoteService, "workflow", "await-transcription",
				fmt.Sprintf("transcription job failed: %s", result.FailureReason), nil)
		default:
			return false, nil
		}
	})
	if err != nil {
		return err
	}
	return w.persistStep(ctx, file, session.StatusDownloadingTranscripts)
}

func (w *FileWorker) downloadTranscript(ctx context.Context, file *session.AudioFile) error {
	result, err := w.transcriber.Poll(ctx, file.TranscriptionJobID)
	if err != nil {
		return err
	}
	if result.State != gladia.JobDone {
		return services.Wrap(services.ErrRemoteService, "workflow", "download-transcript",
			fmt.Sprintf("job no longer terminal: %s", result.State), nil)
	}
	file.Transcript = result.Transcript
	file.TranscriptLanguage = result.Language
	return w.persistStep(ctx, file, session.StatusTranscriptsDownloaded)
}

func (w *FileWorker) failFile(ctx context.Context, file *session.AudioFile, cause error) {
	file.SetFailed(session.FailureStatusFor(cause), cause.Error())
	if saveErr := w.store.SaveFile(ctx, file); saveErr != nil {
		logging.WithContext(ctx, w.logger).Error("failed to persist file failure",
			logging.Error(saveErr))
	}
}
