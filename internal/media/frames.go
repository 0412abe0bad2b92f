package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// FrameExtractor pulls a still frame out of a finished video. The last frame
// seeds cross-provider continuations.
type FrameExtractor struct {
	ffmpegBin string
}

// NewFrameExtractor uses the given ffmpeg binary; empty means "ffmpeg" on PATH.
func NewFrameExtractor(ffmpegBin string) *FrameExtractor {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	return &FrameExtractor{ffmpegBin: ffmpegBin}
}

// ExtractLastFrame writes the final frame of videoPath to outPath as JPEG.
func (f *FrameExtractor) ExtractLastFrame(ctx context.Context, videoPath, outPath string) error {
	if _, err := os.Stat(videoPath); err != nil {
		return fmt.Errorf("source video: %w", err)
	}

	// Seek from the end so we don't decode the whole file.
	cmd := exec.CommandContext(ctx, f.ffmpegBin,
		"-y", "-sseof", "-0.5", "-i", videoPath, "-frames:v", "1", "-q:v", "2", outPath)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg frame extraction: %w", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("frame not written: %w", err)
	}
	return nil
}
