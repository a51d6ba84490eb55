package workflow

import (
	"context"

	"chorus/internal/services/gladia"
	"chorus/internal/services/openai"
)

// Converter turns a staged audio file into an MP3 in destDir and returns the
// produced path.
type Converter interface {
	Convert(ctx context.Context, sourcePath, destDir string) (string, error)
}

// Transcriber is the remote transcription service: submit an audio file, then
// poll the returned job until it reaches a terminal state.
type Transcriber interface {
	Submit(ctx context.Context, audioPath string) (string, error)
	Poll(ctx context.Context, jobID string) (gladia.PollResult, error)
}

// Analyzer is the remote AI analysis service consuming the combined transcript.
type Analyzer interface {
	Submit(ctx context.Context, combinedTranscript string) (string, error)
	Poll(ctx context.Context, jobID string) (openai.PollResult, error)
}
