package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"chorus/internal/services"
)

// FFmpegCommand is the default ffmpeg executable name.
const FFmpegCommand = "ffmpeg"

// Config captures the conversion settings.
type Config struct {
	// Bitrate for the produced MP3, e.g. "192k". Empty uses the encoder default.
	Bitrate string
	// SampleRate in Hz, e.g. 44100. Zero uses the source rate.
	SampleRate int
}

// Converter produces MP3 files from uploaded source recordings by invoking
// ffmpeg as a subprocess.
type Converter struct {
	cfg           Config
	binary        string
	commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewConverter creates a converter with the given configuration.
func NewConverter(cfg Config, binary string) *Converter {
	if binary == "" {
		binary = FFmpegCommand
	}
	return &Converter{cfg: cfg, binary: binary}
}

// WithCommandRunner sets a custom command runner (for testing).
func (c *Converter) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) ([]byte, error)) {
	c.commandRunner = runner
}

// Convert transcodes sourcePath into an MP3 under destDir and returns the
// produced path. Codec and format failures are tagged as conversion errors so
// callers can distinguish them from transient infrastructure failures.
func (c *Converter) Convert(ctx context.Context, sourcePath, destDir string) (string, error) {
	if strings.TrimSpace(sourcePath) == "" {
		return "", services.Wrap(services.ErrValidation, "ffmpeg", "convert", "source path required", nil)
	}
	if strings.TrimSpace(destDir) == "" {
		return "", services.Wrap(services.ErrValidation, "ffmpeg", "convert", "destination directory required", nil)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrPersistence, "ffmpeg", "convert", "ensure destination directory", err)
	}

	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	dest := filepath.Join(destDir, base+".mp3")

	args := c.buildArgs(sourcePath, dest)
	output, err := c.run(ctx, c.binary, args...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classifyConvertError(err, output)
	}

	if _, statErr := os.Stat(dest); statErr != nil {
		return "", services.Wrap(services.ErrConversion, "ffmpeg", "convert", "output file missing after conversion", statErr)
	}
	return dest, nil
}

func (c *Converter) buildArgs(source, dest string) []string {
	args := []string{"-y", "-nostdin", "-i", source, "-vn", "-codec:a", "libmp3lame"}
	if c.cfg.Bitrate != "" {
		args = append(args, "-b:a", c.cfg.Bitrate)
	}
	if c.cfg.SampleRate > 0 {
		args = append(args, "-ar", fmt.Sprintf("%d", c.cfg.SampleRate))
	}
	return append(args, dest)
}

func (c *Converter) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if c.commandRunner != nil {
		return c.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s: %w", name, err)
	}
	return output, nil
}

// codecFailureMarkers are ffmpeg stderr fragments that indicate the input is
// unreadable as audio rather than a transient environment problem.
var codecFailureMarkers = []string{
	"invalid data found when processing input",
	"could not find codec parameters",
	"decoder not found",
	"unknown format",
	"does not contain any stream",
	"unsupported codec",
}

func classifyConvertError(err error, output []byte) error {
	detail := strings.TrimSpace(string(output))
	lowered := strings.ToLower(detail)
	for _, marker := range codecFailureMarkers {
		if strings.Contains(lowered, marker) {
			return services.Wrap(services.ErrConversion, "ffmpeg", "convert", summarizeOutput(detail), err)
		}
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return services.Wrap(services.ErrRemoteService, "ffmpeg", "convert", "ffmpeg binary unavailable", err)
	}
	// Exit status without a recognizable codec marker still means the file
	// could not be converted.
	return services.Wrap(services.ErrConversion, "ffmpeg", "convert", summarizeOutput(detail), err)
}

func summarizeOutput(output string) string {
	if output == "" {
		return "conversion failed"
	}
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			const limit = 200
			if len(line) > limit {
				return line[:limit] + "..."
			}
			return line
		}
	}
	return "conversion failed"
}
