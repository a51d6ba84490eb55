package workflow_test

import (
	"context"
	"sync"
	"testing"

	"chorus/internal/logging"
	"chorus/internal/session"
	"chorus/internal/testsupport"
	"chorus/internal/workflow"
)

func filesAtBarrier(t *testing.T, store *session.Store, sessionID string, count int) []*session.AudioFile {
	t.Helper()
	files := make([]*session.AudioFile, 0, count)
	for i := 0; i < count; i++ {
		file := testsupport.RegisterFile(t, store, sessionID, "file.wav", "/tmp/file.wav")
		file.SetProgress(session.StatusWaitingForOtherFiles, 0)
		file.Transcript = "words"
		if err := store.SaveFile(context.Background(), file); err != nil {
			t.Fatalf("save file: %v", err)
		}
		files = append(files, file)
	}
	return files
}

func TestBarrierFiresExactlyOnceUnderConcurrentArrivals(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sess := testsupport.NewSession(t, store, "review-barrier")
	filesAtBarrier(t, store, sess.ID, 6)

	barrier := workflow.NewBarrierCoordinator(store, logging.NewNop())

	const callers = 12
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runID, err := barrier.CheckAndFire(context.Background(), sess.ID)
			if err != nil {
				t.Errorf("check and fire: %v", err)
				return
			}
			if runID != "" {
				mu.Lock()
				wins = append(wins, runID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(wins) != 1 {
		t.Fatalf("barrier fired %d times, want exactly 1", len(wins))
	}

	reloaded, err := store.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.CollectiveRunID != wins[0] {
		t.Fatalf("persisted run id %q does not match winner %q", reloaded.CollectiveRunID, wins[0])
	}
}

func TestBarrierWaitsForStragglers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sess := testsupport.NewSession(t, store, "review-straggler")
	filesAtBarrier(t, store, sess.ID, 2)

	straggler := testsupport.RegisterFile(t, store, sess.ID, "late.wav", "/tmp/late.wav")
	straggler.SetProgress(session.StatusDownloadingTranscripts, 0.5)
	if err := store.SaveFile(context.Background(), straggler); err != nil {
		t.Fatalf("save straggler: %v", err)
	}

	barrier := workflow.NewBarrierCoordinator(store, logging.NewNop())
	runID, err := barrier.CheckAndFire(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("check and fire: %v", err)
	}
	if runID != "" {
		t.Fatal("barrier fired while a file is mid-ladder")
	}
}

func TestBarrierBlockedByFailedFileUntilExcluded(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sess := testsupport.NewSession(t, store, "review-failed")
	filesAtBarrier(t, store, sess.ID, 2)

	failed := testsupport.RegisterFile(t, store, sess.ID, "bad.wav", "/tmp/bad.wav")
	failed.SetProgress(session.StatusUploadingToGladia, 0)
	failed.SetFailed(session.StatusFailed, "upload refused")
	if err := store.SaveFile(context.Background(), failed); err != nil {
		t.Fatalf("save failed file: %v", err)
	}

	barrier := workflow.NewBarrierCoordinator(store, logging.NewNop())
	runID, err := barrier.CheckAndFire(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("check and fire: %v", err)
	}
	if runID != "" {
		t.Fatal("barrier fired while a failed file was still included")
	}

	sess.ExcludedFiles = append(sess.ExcludedFiles, failed.ID)
	if err := store.SaveSession(context.Background(), sess); err != nil {
		t.Fatalf("save session: %v", err)
	}

	runID, err = barrier.CheckAndFire(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("check and fire after exclusion: %v", err)
	}
	if runID == "" {
		t.Fatal("barrier did not fire after the failed file was excluded")
	}
}

func TestBarrierIgnoresEmptySessions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sess := testsupport.NewSession(t, store, "review-empty")

	barrier := workflow.NewBarrierCoordinator(store, logging.NewNop())
	runID, err := barrier.CheckAndFire(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("check and fire: %v", err)
	}
	if runID != "" {
		t.Fatal("barrier fired for a session with no files")
	}
}
