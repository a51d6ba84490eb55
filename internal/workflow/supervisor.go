package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chorus/internal/config"
	"chorus/internal/logging"
	"chorus/internal/services"
	"chorus/internal/session"
)

// Supervisor is the top-level orchestrator: it creates sessions, fans file
// workers out over them, wires the barrier to the collective processor, and
// resumes persisted state after a restart.
type Supervisor struct {
	cfg        *config.Config
	store      *session.Store
	worker     *FileWorker
	barrier    *BarrierCoordinator
	collective *CollectiveProcessor
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lock    *flock.Flock
	lastErr error
}

// NewSupervisor wires a supervisor over the shared store and service clients.
func NewSupervisor(cfg *config.Config, store *session.Store, converter Converter, transcriber Transcriber, analyzer Analyzer, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		store:      store,
		worker:     NewFileWorker(cfg, store, converter, transcriber, logger),
		barrier:    NewBarrierCoordinator(store, logger),
		collective: NewCollectiveProcessor(cfg, store, analyzer, logger),
		logger:     logging.NewComponentLogger(logger, "supervisor"),
	}
}

// CreateSession registers a new empty session for the given review reference.
func (s *Supervisor) CreateSession(ctx context.Context, reviewRef string) (*session.Session, error) {
	return s.store.NewSession(ctx, reviewRef)
}

// AddFile registers a recording with a session. Registration is rejected once
// the collective phase has started.
func (s *Supervisor) AddFile(ctx context.Context, sessionID, originalFilename, sourcePath string) (*session.AudioFile, error) {
	return s.store.RegisterFile(ctx, sessionID, originalFilename, sourcePath)
}

// ProcessSession drives every file of the session through Phase 1, evaluates
// the barrier, and runs the collective phase if this session is ready for it.
// File failures are persisted on the file and do not stop other files; they
// also do not make ProcessSession fail, since the session may still proceed
// after a retry or an exclusion.
func (s *Supervisor) ProcessSession(ctx context.Context, sessionID string) error {
	ctx = services.WithSessionID(ctx, sessionID)
	ctx = services.WithRequestID(ctx, uuid.NewString())

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return services.Wrap(services.ErrValidation, "supervisor", "process", "session not found", nil)
	}
	if sess.CollectiveStatus.Terminal() {
		return nil
	}

	if !sess.CollectiveStarted() {
		if err := s.runPhaseOne(ctx, sessionID); err != nil {
			return err
		}
	}

	return s.runCollectiveIfStarted(ctx, sessionID)
}

func (s *Supervisor) runPhaseOne(ctx context.Context, sessionID string) error {
	files, err := s.store.FilesForSession(ctx, sessionID)
	if err != nil {
		return err
	}

	var group errgroup.Group
	if limit := s.cfg.Workflow.MaxConcurrentFiles; limit > 0 {
		group.SetLimit(limit)
	}
	for _, file := range files {
		if !file.IsLive() || session.AtOrPastBarrier(file.Status) {
			continue
		}
		file := file
		group.Go(func() error {
			if err := s.worker.Run(ctx, file); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				// Persisted on the file; the session decides later whether
				// it blocks the barrier.
				return nil
			}
			// Arrival at the barrier: check-and-fire immediately so the
			// fire is recorded even if the process dies before Wait.
			if _, err := s.barrier.CheckAndFire(ctx, file.SessionID); err != nil {
				s.logger.Error("barrier check failed",
					logging.String(logging.FieldSessionID, file.SessionID),
					logging.Error(err))
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	// Covers sessions whose files were already at the barrier before this
	// call, e.g. on resume after a crash.
	_, err = s.barrier.CheckAndFire(ctx, sessionID)
	return err
}

func (s *Supervisor) runCollectiveIfStarted(ctx context.Context, sessionID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil || !sess.CollectiveStarted() || sess.CollectiveStatus.Terminal() {
		return nil
	}
	if err := s.collective.Run(ctx, sessionID); err != nil {
		return err
	}
	s.barrier.Forget(sessionID)
	return nil
}

// RetryFile resets a failed file to its pre-failure status. Retrying a live
// file is a no-op. The caller re-drives the session afterwards.
func (s *Supervisor) RetryFile(ctx context.Context, sessionID, fileID string) (*session.AudioFile, error) {
	return s.store.ResetFileForRetry(ctx, sessionID, fileID)
}

// ExcludeFile marks a failed file as permanently excluded so the barrier stops
// waiting for it. Live files cannot be excluded.
func (s *Supervisor) ExcludeFile(ctx context.Context, sessionID, fileID string) error {
	file, err := s.store.GetFile(ctx, sessionID, fileID)
	if err != nil {
		return err
	}
	if file == nil {
		return services.Wrap(services.ErrValidation, "supervisor", "exclude", "file not found", nil)
	}
	if file.IsLive() {
		return services.Wrap(services.ErrValidation, "supervisor", "exclude",
			fmt.Sprintf("file is %s, only failed files can be excluded", file.Status), nil)
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return services.Wrap(services.ErrValidation, "supervisor", "exclude", "session not found", nil)
	}
	for _, id := range sess.ExcludedFiles {
		if id == fileID {
			return nil
		}
	}
	sess.ExcludedFiles = append(sess.ExcludedFiles, fileID)
	return s.store.SaveSession(ctx, sess)
}

// RestartCollective manually resumes a failed collective run from the step it
// failed at.
func (s *Supervisor) RestartCollective(ctx context.Context, sessionID string) error {
	return s.collective.Restart(ctx, sessionID)
}

// Resume reloads every non-terminal session from storage and drives each one
// forward from its persisted state. A session whose files all reached the
// barrier before a crash gets exactly one collective run.
func (s *Supervisor) Resume(ctx context.Context) error {
	sessions, err := s.store.NonTerminalSessions(ctx)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.ProcessSession(ctx, sess.ID); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.logger.Error("session resume failed",
				logging.String(logging.FieldSessionID, sess.ID),
				logging.Error(err))
			s.setLastError(err)
		}
	}
	return nil
}

// Start acquires the single-instance lock and resumes persisted work in the
// background. It returns immediately; Stop waits for in-flight work.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("supervisor already running")
	}

	lock := flock.New(filepath.Join(s.cfg.Paths.LogDir, "chorus.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return errors.New("another engine instance holds the lock")
	}
	s.lock = lock

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Resume(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("resume failed", logging.Error(err))
			s.setLastError(err)
		}
	}()
	return nil
}

// Stop cancels in-flight work, waits for it to persist, and releases the
// instance lock.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			return fmt.Errorf("release instance lock: %w", err)
		}
		s.lock = nil
	}
	return nil
}

// Running reports whether background processing is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastError returns the most recent background failure, if any.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Supervisor) setLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}
