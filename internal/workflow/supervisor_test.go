package workflow_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chorus/internal/config"
	"chorus/internal/logging"
	"chorus/internal/services"
	"chorus/internal/session"
	"chorus/internal/testsupport"
	"chorus/internal/workflow"
)

type supervisorFixture struct {
	cfg         *config.Config
	store       *session.Store
	converter   *stubConverter
	transcriber *stubTranscriber
	analyzer    *stubAnalyzer
	supervisor  *workflow.Supervisor
}

func newSupervisorFixture(t *testing.T) *supervisorFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithMaxConcurrentFiles(2))
	store := testsupport.MustOpenStore(t, cfg)
	converter := &stubConverter{}
	transcriber := newStubTranscriber()
	analyzer := newStubAnalyzer(validInsights)
	return &supervisorFixture{
		cfg:         cfg,
		store:       store,
		converter:   converter,
		transcriber: transcriber,
		analyzer:    analyzer,
		supervisor:  workflow.NewSupervisor(cfg, store, converter, transcriber, analyzer, logging.NewNop()),
	}
}

func (f *supervisorFixture) addSourceFile(t *testing.T, sessionID, name string) *session.AudioFile {
	t.Helper()
	sourcePath := filepath.Join(t.TempDir(), name)
	testsupport.WriteFile(t, sourcePath, 8*1024)
	file, err := f.supervisor.AddFile(context.Background(), sessionID, name, sourcePath)
	if err != nil {
		t.Fatalf("add file %s: %v", name, err)
	}
	return file
}

func TestProcessSessionEndToEnd(t *testing.T) {
	f := newSupervisorFixture(t)
	ctx := context.Background()

	sess, err := f.supervisor.CreateSession(ctx, "review-e2e")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for _, name := range []string{"one.wav", "two.wav", "three.wav"} {
		f.addSourceFile(t, sess.ID, name)
	}

	if err := f.supervisor.ProcessSession(ctx, sess.ID); err != nil {
		t.Fatalf("process session: %v", err)
	}

	reloaded, err := f.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.CollectiveStatus != session.CollectiveComplete {
		t.Fatalf("collective status = %s, want %s", reloaded.CollectiveStatus, session.CollectiveComplete)
	}
	if !strings.Contains(reloaded.CombinedTranscript, "=== File 3: three.wav ===") {
		t.Fatal("combined transcript missing final file header")
	}

	files, err := f.store.FilesForSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	for _, file := range files {
		if file.Status != session.StatusComplete {
			t.Errorf("file %s status = %s", file.OriginalFilename, file.Status)
		}
	}
}

func TestResumeFiresExactlyOneCollectiveRun(t *testing.T) {
	f := newSupervisorFixture(t)
	ctx := context.Background()

	sess, err := f.supervisor.CreateSession(ctx, "review-resume")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	// Simulate a crash after every file reached the barrier but before the
	// collective run was recorded.
	for _, name := range []string{"a.wav", "b.wav"} {
		file := testsupport.RegisterFile(t, f.store, sess.ID, name, "/tmp/"+name)
		file.SetProgress(session.StatusWaitingForOtherFiles, 0)
		file.Transcript = "transcript " + name
		if err := f.store.SaveFile(ctx, file); err != nil {
			t.Fatalf("save file: %v", err)
		}
	}

	if err := f.supervisor.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}

	reloaded, err := f.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.CollectiveStatus != session.CollectiveComplete {
		t.Fatalf("collective status = %s, want %s", reloaded.CollectiveStatus, session.CollectiveComplete)
	}
	if got := f.analyzer.submits.Load(); got != 1 {
		t.Fatalf("analysis submitted %d times, want exactly 1", got)
	}
}

func TestRetryAfterFailureCompletesSession(t *testing.T) {
	f := newSupervisorFixture(t)
	ctx := context.Background()

	sess, err := f.supervisor.CreateSession(ctx, "review-retry")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	file := f.addSourceFile(t, sess.ID, "flaky.wav")

	f.transcriber.submitErr = services.Wrap(services.ErrRemoteService, "gladia", "submit", "http 503", nil)
	if err := f.supervisor.ProcessSession(ctx, sess.ID); err != nil {
		t.Fatalf("process session: %v", err)
	}

	persisted, err := f.store.GetFile(ctx, sess.ID, file.ID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if persisted.Status != session.StatusFailed {
		t.Fatalf("status = %s, want %s", persisted.Status, session.StatusFailed)
	}

	reloaded, err := f.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.CollectiveStarted() {
		t.Fatal("collective phase started despite the failed file")
	}

	f.transcriber.submitErr = nil
	retried, err := f.supervisor.RetryFile(ctx, sess.ID, file.ID)
	if err != nil {
		t.Fatalf("retry file: %v", err)
	}
	if retried.Status != session.StatusUploadingToGladia {
		t.Fatalf("retry status = %s, want pre-failure %s", retried.Status, session.StatusUploadingToGladia)
	}
	if retried.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", retried.RetryCount)
	}

	if err := f.supervisor.ProcessSession(ctx, sess.ID); err != nil {
		t.Fatalf("process session after retry: %v", err)
	}
	reloaded, err = f.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.CollectiveStatus != session.CollectiveComplete {
		t.Fatalf("collective status = %s, want %s", reloaded.CollectiveStatus, session.CollectiveComplete)
	}
}

func TestExcludeFailedFileUnblocksSession(t *testing.T) {
	f := newSupervisorFixture(t)
	ctx := context.Background()

	sess, err := f.supervisor.CreateSession(ctx, "review-exclude")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	f.addSourceFile(t, sess.ID, "good.wav")

	bad := testsupport.RegisterFile(t, f.store, sess.ID, "bad.wav", "/tmp/missing.wav")
	bad.SetFailed(session.StatusFailed, "source unreadable")
	if err := f.store.SaveFile(ctx, bad); err != nil {
		t.Fatalf("save failed file: %v", err)
	}

	if err := f.supervisor.ProcessSession(ctx, sess.ID); err != nil {
		t.Fatalf("process session: %v", err)
	}
	reloaded, err := f.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.CollectiveStarted() {
		t.Fatal("collective started while failed file was included")
	}

	if err := f.supervisor.ExcludeFile(ctx, sess.ID, bad.ID); err != nil {
		t.Fatalf("exclude file: %v", err)
	}
	if err := f.supervisor.ProcessSession(ctx, sess.ID); err != nil {
		t.Fatalf("process session after exclusion: %v", err)
	}

	reloaded, err = f.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.CollectiveStatus != session.CollectiveComplete {
		t.Fatalf("collective status = %s, want %s", reloaded.CollectiveStatus, session.CollectiveComplete)
	}
	if len(reloaded.ExcludedFiles) != 1 || reloaded.ExcludedFiles[0] != bad.ID {
		t.Fatalf("excluded files = %v", reloaded.ExcludedFiles)
	}
	if !strings.Contains(reloaded.CombinedTranscript, "[excluded: no transcript available]") {
		t.Fatal("excluded file not flagged in combined transcript")
	}
}

func TestExcludeRejectsLiveFile(t *testing.T) {
	f := newSupervisorFixture(t)
	ctx := context.Background()

	sess, err := f.supervisor.CreateSession(ctx, "review-exclude-live")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	file := f.addSourceFile(t, sess.ID, "live.wav")

	if err := f.supervisor.ExcludeFile(ctx, sess.ID, file.ID); err == nil {
		t.Fatal("expected exclusion of a live file to be rejected")
	}
}

func TestStartHoldsSingleInstanceLock(t *testing.T) {
	f := newSupervisorFixture(t)

	if err := f.supervisor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	other := workflow.NewSupervisor(f.cfg, f.store, f.converter, f.transcriber, f.analyzer, logging.NewNop())
	if err := other.Start(context.Background()); err == nil {
		t.Fatal("expected second instance to be rejected")
	}

	if err := f.supervisor.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if err := other.Start(context.Background()); err != nil {
		t.Fatalf("start after release: %v", err)
	}
	// Give the background resume a moment before shutting down.
	time.Sleep(10 * time.Millisecond)
	if err := other.Stop(); err != nil {
		t.Fatalf("stop second instance: %v", err)
	}
}
