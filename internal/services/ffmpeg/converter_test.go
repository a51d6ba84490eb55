package ffmpeg_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"chorus/internal/services"
	"chorus/internal/services/ffmpeg"
)

func TestConvertBuildsOutputPath(t *testing.T) {
	destDir := t.TempDir()
	conv := ffmpeg.NewConverter(ffmpeg.Config{Bitrate: "192k"}, "ffmpeg")

	var gotArgs []string
	conv.WithCommandRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
		if name != "ffmpeg" {
			t.Fatalf("unexpected binary: %s", name)
		}
		gotArgs = args
		// Simulate ffmpeg writing the output file.
		dest := args[len(args)-1]
		if err := os.WriteFile(dest, []byte("mp3"), 0o644); err != nil {
			t.Fatalf("write stub output: %v", err)
		}
		return nil, nil
	})

	dest, err := conv.Convert(context.Background(), "/uploads/recording one.m4a", destDir)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if filepath.Base(dest) != "recording one.mp3" {
		t.Fatalf("unexpected dest: %s", dest)
	}
	found := false
	for i, arg := range gotArgs {
		if arg == "-b:a" && i+1 < len(gotArgs) && gotArgs[i+1] == "192k" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected bitrate args, got %v", gotArgs)
	}
}

func TestConvertClassifiesCodecFailure(t *testing.T) {
	conv := ffmpeg.NewConverter(ffmpeg.Config{}, "ffmpeg")
	conv.WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
		return []byte("file.m4a: Invalid data found when processing input\n"), errors.New("exit status 1")
	})

	_, err := conv.Convert(context.Background(), "/uploads/file.m4a", t.TempDir())
	if !errors.Is(err, services.ErrConversion) {
		t.Fatalf("expected conversion error, got %v", err)
	}
}

func TestConvertMissingOutputIsConversionError(t *testing.T) {
	conv := ffmpeg.NewConverter(ffmpeg.Config{}, "ffmpeg")
	conv.WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
		return nil, nil
	})

	_, err := conv.Convert(context.Background(), "/uploads/file.wav", t.TempDir())
	if !errors.Is(err, services.ErrConversion) {
		t.Fatalf("expected conversion error for missing output, got %v", err)
	}
}

func TestConvertValidatesInput(t *testing.T) {
	conv := ffmpeg.NewConverter(ffmpeg.Config{}, "")
	if _, err := conv.Convert(context.Background(), "", t.TempDir()); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
