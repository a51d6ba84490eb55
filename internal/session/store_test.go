package session_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"chorus/internal/session"
)

func openStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.OpenPath(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func TestRegisterFileAssignsPositions(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	sess, err := store.NewSession(ctx, "review-42")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	first, err := store.RegisterFile(ctx, sess.ID, "intro.wav", "/tmp/intro.wav")
	if err != nil {
		t.Fatalf("register first file: %v", err)
	}
	second, err := store.RegisterFile(ctx, sess.ID, "outro.wav", "/tmp/outro.wav")
	if err != nil {
		t.Fatalf("register second file: %v", err)
	}
	if first.Position != 0 || second.Position != 1 {
		t.Fatalf("positions = %d, %d, want 0, 1", first.Position, second.Position)
	}
	if first.Status != session.StatusPending {
		t.Fatalf("new file status = %s, want %s", first.Status, session.StatusPending)
	}

	files, err := store.FilesForSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if files[0].OriginalFilename != "intro.wav" || files[1].OriginalFilename != "outro.wav" {
		t.Fatalf("files out of registration order: %s, %s", files[0].OriginalFilename, files[1].OriginalFilename)
	}
}

func TestRegisterFileRejectedAfterCollectiveStarts(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	sess, err := store.NewSession(ctx, "review-late")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	started, err := store.BeginCollectiveRun(ctx, sess.ID, "run-1")
	if err != nil || !started {
		t.Fatalf("begin collective run: started=%v err=%v", started, err)
	}
	if _, err := store.RegisterFile(ctx, sess.ID, "late.wav", "/tmp/late.wav"); err == nil {
		t.Fatal("expected registration after collective start to fail")
	}
}

func TestSaveFileRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	sess, err := store.NewSession(ctx, "review-save")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	file, err := store.RegisterFile(ctx, sess.ID, "take1.wav", "/tmp/take1.wav")
	if err != nil {
		t.Fatalf("register file: %v", err)
	}

	file.SetProgress(session.StatusDownloadingTranscripts, 0.5)
	file.Transcript = "hello world"
	file.TranscriptLanguage = "en"
	file.TranscriptionJobID = "job-9"
	if err := store.SaveFile(ctx, file); err != nil {
		t.Fatalf("save file: %v", err)
	}

	reloaded, err := store.GetFile(ctx, sess.ID, file.ID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if reloaded == nil {
		t.Fatal("file not found after save")
	}
	if reloaded.Status != session.StatusDownloadingTranscripts || reloaded.SubProgress != 0.5 {
		t.Fatalf("status/progress = %s/%v", reloaded.Status, reloaded.SubProgress)
	}
	if reloaded.Transcript != "hello world" || reloaded.TranscriptLanguage != "en" {
		t.Fatalf("transcript fields lost: %q %q", reloaded.Transcript, reloaded.TranscriptLanguage)
	}
	if reloaded.LastLiveStatus != session.StatusDownloadingTranscripts {
		t.Fatalf("LastLiveStatus = %s", reloaded.LastLiveStatus)
	}
}

func TestResetFileForRetry(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	sess, err := store.NewSession(ctx, "review-retry")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	file, err := store.RegisterFile(ctx, sess.ID, "take2.wav", "/tmp/take2.wav")
	if err != nil {
		t.Fatalf("register file: %v", err)
	}

	file.SetProgress(session.StatusConvertingToMp3, 0.8)
	file.SetFailed(session.StatusFailedMp3, "bad codec")
	if err := store.SaveFile(ctx, file); err != nil {
		t.Fatalf("save failed file: %v", err)
	}

	reset, err := store.ResetFileForRetry(ctx, sess.ID, file.ID)
	if err != nil {
		t.Fatalf("reset for retry: %v", err)
	}
	if reset.Status != session.StatusConvertingToMp3 {
		t.Fatalf("retry status = %s, want %s", reset.Status, session.StatusConvertingToMp3)
	}
	if reset.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", reset.RetryCount)
	}

	// Retrying a live file is a no-op.
	again, err := store.ResetFileForRetry(ctx, sess.ID, file.ID)
	if err != nil {
		t.Fatalf("second reset: %v", err)
	}
	if again.Status != session.StatusConvertingToMp3 || again.RetryCount != 1 {
		t.Fatalf("live retry changed state: %s retries=%d", again.Status, again.RetryCount)
	}
}

func TestBeginCollectiveRunFiresOnce(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	sess, err := store.NewSession(ctx, "review-barrier")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	const attempts = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(run int) {
			defer wg.Done()
			started, err := store.BeginCollectiveRun(ctx, sess.ID, fmt.Sprintf("run-%d", run))
			if err != nil {
				t.Errorf("begin collective run: %v", err)
				return
			}
			if started {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("collective run started %d times, want exactly 1", wins)
	}

	reloaded, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.CollectiveRunID == "" {
		t.Fatal("collective run id not recorded")
	}
	if reloaded.CollectiveStatus != session.CollectiveProcessingTranscriptions {
		t.Fatalf("collective status = %s", reloaded.CollectiveStatus)
	}
}

func TestNonTerminalSessions(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	live, err := store.NewSession(ctx, "review-live")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	done, err := store.NewSession(ctx, "review-done")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	done.CollectiveStatus = session.CollectiveComplete
	if err := store.SaveSession(ctx, done); err != nil {
		t.Fatalf("save session: %v", err)
	}

	sessions, err := store.NonTerminalSessions(ctx)
	if err != nil {
		t.Fatalf("list non-terminal sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != live.ID {
		t.Fatalf("non-terminal sessions = %d entries", len(sessions))
	}
}

func TestMarkSessionFilesCompletePreservesFailures(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	sess, err := store.NewSession(ctx, "review-finish")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	good, err := store.RegisterFile(ctx, sess.ID, "good.wav", "/tmp/good.wav")
	if err != nil {
		t.Fatalf("register file: %v", err)
	}
	bad, err := store.RegisterFile(ctx, sess.ID, "bad.wav", "/tmp/bad.wav")
	if err != nil {
		t.Fatalf("register file: %v", err)
	}

	good.SetProgress(session.StatusWaitingForOtherFiles, 0)
	if err := store.SaveFile(ctx, good); err != nil {
		t.Fatalf("save file: %v", err)
	}
	bad.SetFailed(session.StatusFailed, "upload refused")
	if err := store.SaveFile(ctx, bad); err != nil {
		t.Fatalf("save file: %v", err)
	}

	if err := store.MarkSessionFilesComplete(ctx, sess.ID); err != nil {
		t.Fatalf("mark files complete: %v", err)
	}

	files, err := store.FilesForSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if files[0].Status != session.StatusComplete {
		t.Fatalf("live file status = %s, want %s", files[0].Status, session.StatusComplete)
	}
	if files[1].Status != session.StatusFailed {
		t.Fatalf("failed file status = %s, want it preserved", files[1].Status)
	}
}
