package gladia

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/language"

	"chorus/internal/services"
)

const defaultHTTPTimeout = 60 * time.Second

// Config captures the runtime settings required to talk to the transcription API.
type Config struct {
	APIKey         string
	BaseURL        string
	TimeoutSeconds int
}

// Client wraps the Gladia pre-recorded transcription API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a transcription client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = "https://api.gladia.io/v2"
	}
	return client
}

// JobState enumerates the remote transcription job lifecycle.
type JobState string

const (
	JobPending JobState = "pending"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// PollResult is the outcome of a single job status poll.
type PollResult struct {
	State      JobState
	Transcript string
	// Language is a normalized BCP 47 tag (e.g. "en") when the service reports one.
	Language string
	// FailureReason carries the remote error description for failed jobs.
	FailureReason string
}

// Submit uploads an audio file and starts a transcription job, returning the
// remote job identifier.
func (c *Client) Submit(ctx context.Context, audioPath string) (string, error) {
	if strings.TrimSpace(audioPath) == "" {
		return "", services.Wrap(services.ErrValidation, "gladia", "submit", "audio path required", nil)
	}
	if c.cfg.APIKey == "" {
		return "", services.Wrap(services.ErrValidation, "gladia", "submit", "api key required", nil)
	}

	audioURL, err := c.upload(ctx, audioPath)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]any{"audio_url": audioURL})
	if err != nil {
		return "", services.Wrap(services.ErrRemoteService, "gladia", "submit", "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/pre-recorded", bytes.NewReader(payload))
	if err != nil {
		return "", services.Wrap(services.ErrRemoteService, "gladia", "submit", "new request", err)
	}
	req.Header.Set("x-gladia-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req, "submit")
	if err != nil {
		return "", err
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", services.Wrap(services.ErrRemoteService, "gladia", "submit", "decode response", err)
	}
	if strings.TrimSpace(parsed.ID) == "" {
		return "", services.Wrap(services.ErrRemoteService, "gladia", "submit", "response missing job id", nil)
	}
	return parsed.ID, nil
}

// Poll fetches the current state of a transcription job.
func (c *Client) Poll(ctx context.Context, jobID string) (PollResult, error) {
	var empty PollResult
	if strings.TrimSpace(jobID) == "" {
		return empty, services.Wrap(services.ErrValidation, "gladia", "poll", "job id required", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/pre-recorded/"+url.PathEscape(jobID), nil)
	if err != nil {
		return empty, services.Wrap(services.ErrRemoteService, "gladia", "poll", "new request", err)
	}
	req.Header.Set("x-gladia-key", c.cfg.APIKey)

	body, err := c.do(req, "poll")
	if err != nil {
		return empty, err
	}

	var parsed struct {
		Status string `json:"status"`
		Error  struct {
			Message string `json:"message"`
		} `json:"error"`
		Result struct {
			Transcription struct {
				FullTranscript string   `json:"full_transcript"`
				Languages      []string `json:"languages"`
			} `json:"transcription"`
			Metadata struct {
				Language string `json:"language"`
			} `json:"metadata"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return empty, services.Wrap(services.ErrRemoteService, "gladia", "poll", "decode response", err)
	}

	switch strings.ToLower(strings.TrimSpace(parsed.Status)) {
	case "queued", "processing", "pending":
		return PollResult{State: JobPending}, nil
	case "done", "completed":
		return PollResult{
			State:      JobDone,
			Transcript: parsed.Result.Transcription.FullTranscript,
			Language:   normalizeLanguage(parsed.Result.Metadata.Language),
		}, nil
	case "error", "failed":
		reason := strings.TrimSpace(parsed.Error.Message)
		if reason == "" {
			reason = "transcription failed"
		}
		return PollResult{State: JobFailed, FailureReason: reason}, nil
	default:
		return empty, services.Wrap(services.ErrRemoteService, "gladia", "poll", fmt.Sprintf("unknown job status %q", parsed.Status), nil)
	}
}

func (c *Client) upload(ctx context.Context, audioPath string) (string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return "", services.Wrap(services.ErrPersistence, "gladia", "upload", "open audio file", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return "", services.Wrap(services.ErrRemoteService, "gladia", "upload", "build form", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", services.Wrap(services.ErrPersistence, "gladia", "upload", "read audio file", err)
	}
	if err := writer.Close(); err != nil {
		return "", services.Wrap(services.ErrRemoteService, "gladia", "upload", "finish form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/upload", &buf)
	if err != nil {
		return "", services.Wrap(services.ErrRemoteService, "gladia", "upload", "new request", err)
	}
	req.Header.Set("x-gladia-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	body, err := c.do(req, "upload")
	if err != nil {
		return "", err
	}

	var parsed struct {
		AudioURL string `json:"audio_url"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", services.Wrap(services.ErrRemoteService, "gladia", "upload", "decode response", err)
	}
	if strings.TrimSpace(parsed.AudioURL) == "" {
		return "", services.Wrap(services.ErrRemoteService, "gladia", "upload", "response missing audio url", nil)
	}
	return parsed.AudioURL, nil
}

func (c *Client) do(req *http.Request, operation string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTimeout, "gladia", operation, "request deadline exceeded", err)
		}
		return nil, services.Wrap(services.ErrRemoteService, "gladia", operation, "http error", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrRemoteService, "gladia", operation, "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet := strings.TrimSpace(string(body))
		const limit = 200
		if len(snippet) > limit {
			snippet = snippet[:limit] + "..."
		}
		return nil, services.Wrap(services.ErrRemoteService, "gladia", operation, fmt.Sprintf("http %d: %s", resp.StatusCode, snippet), nil)
	}
	return body, nil
}

func normalizeLanguage(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return strings.ToLower(code)
	}
	return tag.String()
}
