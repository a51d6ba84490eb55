package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chorus/internal/config"
	"chorus/internal/logging"
	"chorus/internal/services"
	"chorus/internal/services/openai"
	"chorus/internal/session"
)

// CollectiveProcessor runs the session-wide Phase-2 ladder: merge the live
// transcripts, submit them for AI analysis, await the result, and interpret
// it. Each step persists the session before the next step starts, so a resumed
// run continues from the recorded status. A failure keeps every artifact
// produced so far and records the failed step for a manual restart.
type CollectiveProcessor struct {
	cfg      *config.Config
	store    *session.Store
	analyzer Analyzer
	logger   *slog.Logger

	analysisPoll pollPolicy
}

// NewCollectiveProcessor constructs a processor over the shared store and
// analysis client.
func NewCollectiveProcessor(cfg *config.Config, store *session.Store, analyzer Analyzer, logger *slog.Logger) *CollectiveProcessor {
	return &CollectiveProcessor{
		cfg:      cfg,
		store:    store,
		analyzer: analyzer,
		logger:   logging.NewComponentLogger(logger, "collective"),
		analysisPoll: pollPolicy{
			Interval: time.Duration(cfg.OpenAI.PollIntervalSeconds) * time.Second,
			Cap:      time.Duration(cfg.Workflow.PollBackoffCapSeconds) * time.Second,
			Timeout:  time.Duration(cfg.OpenAI.PollTimeoutSeconds) * time.Second,
		},
	}
}

// Run drives the session from its current collective status to a terminal
// state. It expects the collective run to have been recorded already (by the
// barrier or by a restart).
func (p *CollectiveProcessor) Run(ctx context.Context, sessionID string) error {
	ctx = services.WithSessionID(ctx, sessionID)
	logger := logging.WithContext(ctx, p.logger)

	for {
		sess, err := p.store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess == nil {
			return services.Wrap(services.ErrValidation, "collective", "run", "session not found", nil)
		}
		if !sess.CollectiveStarted() {
			return services.Wrap(services.ErrValidation, "collective", "run", "collective run not recorded", nil)
		}
		if sess.CollectiveStatus.Terminal() {
			return nil
		}

		step := sess.CollectiveStatus
		if err := p.runStep(ctx, sess); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.failSession(ctx, sess, step, err)
			return err
		}
		logger.Info("collective step completed",
			logging.String(logging.FieldEventType, "collective_step"),
			logging.String("from", string(step)),
			logging.String("to", string(sess.CollectiveStatus)))
	}
}

func (p *CollectiveProcessor) runStep(ctx context.Context, sess *session.Session) error {
	switch sess.CollectiveStatus {
	case session.CollectiveProcessingTranscriptions:
		return p.mergeTranscripts(ctx, sess)
	case session.CollectiveSendingToOpenAI:
		return p.submitAnalysis(ctx, sess)
	case session.CollectiveProcessingWithAI:
		return p.awaitAnalysis(ctx, sess)
	case session.CollectiveReadyToProcessAIResponse:
		return p.persistStep(ctx, sess, session.CollectiveProcessingAIResponse)
	case session.CollectiveProcessingAIResponse:
		return p.interpretResponse(ctx, sess)
	default:
		return services.Wrap(services.ErrValidation, "collective", "run",
			fmt.Sprintf("no step for status %q", sess.CollectiveStatus), nil)
	}
}

// mergeTranscripts builds the combined transcript in file registration order.
// Files that never delivered a transcript (failed or excluded) are flagged in
// place so downstream analysis knows about the gap.
func (p *CollectiveProcessor) mergeTranscripts(ctx context.Context, sess *session.Session) error {
	files, err := p.store.FilesForSession(ctx, sess.ID)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return services.Wrap(services.ErrValidation, "collective", "merge", "session has no files", nil)
	}

	excluded := make(map[string]bool, len(sess.ExcludedFiles))
	for _, id := range sess.ExcludedFiles {
		excluded[id] = true
	}

	var builder strings.Builder
	var liveCount int
	for _, file := range files {
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		fmt.Fprintf(&builder, "=== File %d: %s ===\n", file.Position+1, file.OriginalFilename)
		if excluded[file.ID] || !file.IsLive() {
			builder.WriteString("[excluded: no transcript available]")
			if !excluded[file.ID] {
				sess.ExcludedFiles = append(sess.ExcludedFiles, file.ID)
				excluded[file.ID] = true
			}
			continue
		}
		if file.TranscriptLanguage != "" {
			fmt.Fprintf(&builder, "[language: %s]\n", file.TranscriptLanguage)
		}
		builder.WriteString(strings.TrimSpace(file.Transcript))
		liveCount++
	}
	if liveCount == 0 {
		return services.Wrap(services.ErrValidation, "collective", "merge", "no live transcripts to merge", nil)
	}

	sess.CombinedTranscript = builder.String()
	if err := p.writeArtifact(sess.ID, "combined_transcript.txt", []byte(sess.CombinedTranscript)); err != nil {
		return err
	}
	return p.persistStep(ctx, sess, session.CollectiveSendingToOpenAI)
}

// submitAnalysis starts the remote AI job. A run resumed at this step with a
// job id already recorded skips the duplicate (and billable) submission.
func (p *CollectiveProcessor) submitAnalysis(ctx context.Context, sess *session.Session) error {
	if sess.AIJobID == "" {
		jobID, err := p.analyzer.Submit(ctx, sess.CombinedTranscript)
		if err != nil {
			return err
		}
		sess.AIJobID = jobID
	}
	return p.persistStep(ctx, sess, session.CollectiveProcessingWithAI)
}

func (p *CollectiveProcessor) awaitAnalysis(ctx context.Context, sess *session.Session) error {
	var response string
	err := pollUntil(ctx, p.analysisPoll, "await-analysis", func(ctx context.Context) (bool, error) {
		result, err := p.analyzer.Poll(ctx, sess.AIJobID)
		if err != nil {
			return false, err
		}
		switch result.State {
		case openai.JobDone:
			response = result.Response
			return true, nil
		case openai.JobFailed:
			return false, services.Wrap(services.ErrRemoteService, "collective", "await-analysis",
				fmt.Sprintf("analysis job failed: %s", result.FailureReason), nil)
		default:
			return false, nil
		}
	})
	if err != nil {
		return err
	}
	sess.AIResponse = response
	if err := p.writeArtifact(sess.ID, "ai_response.txt", []byte(response)); err != nil {
		return err
	}
	return p.persistStep(ctx, sess, session.CollectiveReadyToProcessAIResponse)
}

// interpretResponse is the local, non-network final step: decode the model
// output into structured insights and mark the session complete.
func (p *CollectiveProcessor) interpretResponse(ctx context.Context, sess *session.Session) error {
	insights, err := openai.ParseInsights(sess.AIResponse)
	if err != nil {
		return services.Wrap(services.ErrValidation, "collective", "interpret", "decode analysis response", err)
	}
	encoded, err := json.MarshalIndent(insights, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrValidation, "collective", "interpret", "encode insights", err)
	}
	sess.InsightsJSON = string(encoded)
	if err := p.writeArtifact(sess.ID, "insights.json", encoded); err != nil {
		return err
	}

	if err := p.store.MarkSessionFilesComplete(ctx, sess.ID); err != nil {
		return services.Wrap(services.ErrPersistence, "collective", "interpret", "mark files complete", err)
	}
	return p.persistStep(ctx, sess, session.CollectiveComplete)
}

// Restart resumes a failed run from the step it failed at. It never re-runs
// steps that already completed, so a parse failure does not re-submit the
// remote analysis job.
func (p *CollectiveProcessor) Restart(ctx context.Context, sessionID string) error {
	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return services.Wrap(services.ErrValidation, "collective", "restart", "session not found", nil)
	}
	if sess.CollectiveStatus != session.CollectiveFailed {
		return services.Wrap(services.ErrValidation, "collective", "restart",
			fmt.Sprintf("session is %s, not failed", sess.CollectiveStatus), nil)
	}

	resumeAt := session.CollectiveProcessingTranscriptions
	for _, step := range session.CollectiveOrder() {
		if sess.FailedStep == step && !step.Terminal() {
			resumeAt = step
			break
		}
	}
	sess.CollectiveStatus = resumeAt
	sess.FailedStep = ""
	sess.ErrorMessage = ""
	if err := p.store.SaveSession(ctx, sess); err != nil {
		return services.Wrap(services.ErrPersistence, "collective", "restart", "persist restart", err)
	}
	return p.Run(ctx, sessionID)
}

func (p *CollectiveProcessor) persistStep(ctx context.Context, sess *session.Session, next session.CollectiveStatus) error {
	sess.CollectiveStatus = next
	if err := p.store.SaveSession(ctx, sess); err != nil {
		return services.Wrap(services.ErrPersistence, "collective", "run", "persist collective status", err)
	}
	return nil
}

func (p *CollectiveProcessor) failSession(ctx context.Context, sess *session.Session, step session.CollectiveStatus, cause error) {
	sess.CollectiveStatus = session.CollectiveFailed
	sess.FailedStep = step
	sess.ErrorMessage = cause.Error()
	if err := p.store.SaveSession(ctx, sess); err != nil {
		logging.WithContext(ctx, p.logger).Error("failed to persist collective failure",
			logging.String(logging.FieldSessionID, sess.ID),
			logging.Error(err))
	}
}

func (p *CollectiveProcessor) writeArtifact(sessionID, name string, data []byte) error {
	dir := filepath.Join(p.cfg.Paths.ArtifactDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return services.Wrap(services.ErrPersistence, "collective", "artifact", "create artifact directory", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return services.Wrap(services.ErrPersistence, "collective", "artifact", "write "+name, err)
	}
	return nil
}
