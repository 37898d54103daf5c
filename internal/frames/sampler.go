// Package frames turns a stored video into an ordered set of still images
// sampled at a fixed time interval, using ffmpeg for decoding.
package frames

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const jpegQuality = 85

// UnsupportedMediaError reports a video whose metadata could not be read or
// whose sampling parameters are unusable.
type UnsupportedMediaError struct {
	Path   string
	Reason string
}

func (e *UnsupportedMediaError) Error() string {
	return fmt.Sprintf("unsupported media %s: %s", e.Path, e.Reason)
}

type Sampler struct {
	ffmpegPath  string
	ffprobePath string
	frameSize   int
}

// NewSampler locates ffmpeg and ffprobe in PATH. frameSize bounds the longer
// edge of each sampled frame; zero keeps the source resolution.
func NewSampler(frameSize int) (*Sampler, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	log.Debug().Str("ffmpeg", ffmpegPath).Str("ffprobe", ffprobePath).Msg("sampler ready")

	return &Sampler{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		frameSize:   frameSize,
	}, nil
}

// SampleTimes returns the timestamps at which a video of the given duration
// is sampled. The frame at t=0 is always included; the total count is
// floor(duration/interval) with a minimum of one frame.
func SampleTimes(duration, interval time.Duration) []time.Duration {
	count := int(duration / interval)
	if count < 1 {
		count = 1
	}
	times := make([]time.Duration, count)
	for i := range times {
		times[i] = time.Duration(i) * interval
	}
	return times
}

// Sample decodes the video at videoPath and captures one JPEG frame per
// sample timestamp. Any single capture failure fails the whole call; partial
// frame sets are never returned. Each call uses its own temp directory,
// removed on every return path.
func (s *Sampler) Sample(ctx context.Context, videoPath string, interval time.Duration) ([][]byte, error) {
	if interval <= 0 {
		return nil, &UnsupportedMediaError{Path: videoPath, Reason: fmt.Sprintf("invalid sample interval %v", interval)}
	}
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("video file not accessible: %w", err)
	}

	duration, err := s.probeDuration(ctx, videoPath)
	if err != nil {
		return nil, &UnsupportedMediaError{Path: videoPath, Reason: err.Error()}
	}

	tempDir, err := os.MkdirTemp("", "roomsight-frames-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	times := SampleTimes(duration, interval)
	log.Debug().
		Str("video", videoPath).
		Dur("duration", duration).
		Dur("interval", interval).
		Int("frames", len(times)).
		Msg("sampling frames")

	frames := make([][]byte, 0, len(times))
	for i, ts := range times {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frameData, err := s.captureFrame(ctx, videoPath, tempDir, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to capture frame %d at %v: %w", i, ts, err)
		}
		frames = append(frames, frameData)
	}

	return frames, nil
}

func (s *Sampler) probeDuration(ctx context.Context, videoPath string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, s.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("duration not readable: %w", err)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("invalid duration %f", seconds)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

func (s *Sampler) captureFrame(ctx context.Context, videoPath, tempDir string, ts time.Duration) ([]byte, error) {
	tempFile := filepath.Join(tempDir, fmt.Sprintf("frame_%d.jpg", ts.Milliseconds()))

	args := []string{
		"-ss", fmt.Sprintf("%.3f", ts.Seconds()),
		"-i", videoPath,
		"-vframes", "1",
	}
	if s.frameSize > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease", s.frameSize, s.frameSize))
	}
	args = append(args, "-q:v", "2", "-f", "mjpeg", tempFile)

	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		log.Debug().Str("stderr", stderr.String()).Msg("ffmpeg frame capture failed")
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}

	file, err := os.Open(tempFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open captured frame: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	return buf.Bytes(), nil
}
