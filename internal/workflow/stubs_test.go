package workflow_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"chorus/internal/services"
	"chorus/internal/services/gladia"
	"chorus/internal/services/openai"
)

// stubConverter writes an empty MP3 next to where ffmpeg would and records
// invocations.
type stubConverter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *stubConverter) Convert(ctx context.Context, sourcePath, destDir string) (string, error) {
	c.mu.Lock()
	c.calls++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	dest := filepath.Join(destDir, base+".mp3")
	if writeErr := os.WriteFile(dest, []byte("mp3"), 0o644); writeErr != nil {
		return "", writeErr
	}
	return dest, nil
}

func (c *stubConverter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// stubTranscriber hands out sequential job ids and serves per-job results.
type stubTranscriber struct {
	mu        sync.Mutex
	jobs      map[string]gladia.PollResult
	nextJob   int
	submitErr error
	pollErr   error
}

func newStubTranscriber() *stubTranscriber {
	return &stubTranscriber{jobs: make(map[string]gladia.PollResult)}
}

func (t *stubTranscriber) Submit(ctx context.Context, audioPath string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.submitErr != nil {
		return "", t.submitErr
	}
	t.nextJob++
	jobID := fmt.Sprintf("job-%d", t.nextJob)
	t.jobs[jobID] = gladia.PollResult{
		State:      gladia.JobDone,
		Transcript: "transcript of " + filepath.Base(audioPath),
		Language:   "en",
	}
	return jobID, nil
}

func (t *stubTranscriber) Poll(ctx context.Context, jobID string) (gladia.PollResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pollErr != nil {
		return gladia.PollResult{}, t.pollErr
	}
	result, ok := t.jobs[jobID]
	if !ok {
		return gladia.PollResult{}, services.Wrap(services.ErrRemoteService, "stub", "poll", "unknown job "+jobID, nil)
	}
	return result, nil
}

// stubAnalyzer serves one background analysis job with a configurable outcome.
type stubAnalyzer struct {
	mu       sync.Mutex
	result   openai.PollResult
	submits  atomic.Int64
	lastSent string
}

func newStubAnalyzer(response string) *stubAnalyzer {
	return &stubAnalyzer{result: openai.PollResult{State: openai.JobDone, Response: response}}
}

func (a *stubAnalyzer) Submit(ctx context.Context, combinedTranscript string) (string, error) {
	a.submits.Add(1)
	a.mu.Lock()
	a.lastSent = combinedTranscript
	a.mu.Unlock()
	return "analysis-1", nil
}

func (a *stubAnalyzer) Poll(ctx context.Context, jobID string) (openai.PollResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result, nil
}

func (a *stubAnalyzer) setResult(result openai.PollResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result = result
}

func (a *stubAnalyzer) sentTranscript() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSent
}

const validInsights = `{"summary": "two recordings reviewed", "highlights": [{"file": "a.wav", "quote": "hello", "note": "greeting"}], "themes": ["introductions"]}`
