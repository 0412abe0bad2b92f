package media

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// ResizeAndPad scales an input image to fit inside the target frame and
// letterboxes it onto a black canvas, so reference images match the requested
// video size without cropping. Returns the path of a temp JPEG the caller
// must clean up.
func ResizeAndPad(inputPath, targetSize string) (string, error) {
	width, height, err := parseSize(targetSize)
	if err != nil {
		return "", err
	}

	src, err := imaging.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}

	fitted := imaging.Fit(src, width, height, imaging.Lanczos)
	canvas := imaging.New(width, height, image.Black)
	out := imaging.PasteCenter(canvas, fitted)

	outPath := filepath.Join(os.TempDir(), fmt.Sprintf("ref-%s.jpg", uuid.New().String()))
	if err := imaging.Save(out, outPath, imaging.JPEGQuality(95)); err != nil {
		return "", fmt.Errorf("save padded image: %w", err)
	}
	return outPath, nil
}

// CleanupTemp removes a temp image, ignoring files already gone.
func CleanupTemp(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

func parseSize(size string) (int, int, error) {
	parts := strings.SplitN(size, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid size format %q, want WIDTHxHEIGHT", size)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid width in %q", size)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid height in %q", size)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("non-positive dimensions in %q", size)
	}
	return w, h, nil
}
