package workflow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"chorus/internal/logging"
	"chorus/internal/session"
)

// BarrierCoordinator decides when a session crosses from per-file processing
// into the collective phase. The decision is made under a session-scoped mutex
// and committed through a compare-and-set on the persisted collective run id,
// so concurrent workers and process restarts observe at most one fire.
type BarrierCoordinator struct {
	store  *session.Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBarrierCoordinator constructs a coordinator over the shared store.
func NewBarrierCoordinator(store *session.Store, logger *slog.Logger) *BarrierCoordinator {
	return &BarrierCoordinator{
		store:  store,
		logger: logging.NewComponentLogger(logger, "barrier"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// CheckAndFire re-reads the session's files and, if every file has either
// reached the barrier or been excluded, records the collective run. It returns
// the run id when this call won the fire, and "" otherwise. A failed file that
// has not been excluded blocks the barrier until it is retried or excluded.
func (b *BarrierCoordinator) CheckAndFire(ctx context.Context, sessionID string) (string, error) {
	lock := b.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := b.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess == nil || sess.CollectiveStarted() {
		return "", nil
	}

	files, err := b.store.FilesForSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}

	excluded := make(map[string]bool, len(sess.ExcludedFiles))
	for _, id := range sess.ExcludedFiles {
		excluded[id] = true
	}
	for _, file := range files {
		if excluded[file.ID] {
			continue
		}
		if !file.IsLive() || !session.AtOrPastBarrier(file.Status) {
			return "", nil
		}
	}

	runID := uuid.NewString()
	won, err := b.store.BeginCollectiveRun(ctx, sessionID, runID)
	if err != nil {
		return "", err
	}
	if !won {
		return "", nil
	}
	b.logger.Info("barrier fired",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldEventType, "barrier_fire"),
		logging.String("collective_run_id", runID),
		logging.Int("file_count", len(files)))
	return runID, nil
}

func (b *BarrierCoordinator) sessionLock(sessionID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	lock, ok := b.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		b.locks[sessionID] = lock
	}
	return lock
}

// Forget drops the in-memory lock for a finished session.
func (b *BarrierCoordinator) Forget(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.locks, sessionID)
}
