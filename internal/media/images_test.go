package media

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func TestResizeAndPadLetterboxes(t *testing.T) {
	// A wide red strip against a 16:9 target should be centered with black
	// bars top and bottom.
	src := image.NewRGBA(image.Rect(0, 0, 100, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 100; x++ {
			src.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	inPath := filepath.Join(t.TempDir(), "in.png")
	f, err := os.Create(inPath)
	if err != nil {
		t.Fatalf("create input: %v", err)
	}
	if err := png.Encode(f, src); err != nil {
		t.Fatalf("encode input: %v", err)
	}
	f.Close()

	outPath, err := ResizeAndPad(inPath, "160x90")
	if err != nil {
		t.Fatalf("resize and pad: %v", err)
	}
	defer CleanupTemp(outPath)

	out, err := imaging.Open(outPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	if out.Bounds().Dx() != 160 || out.Bounds().Dy() != 90 {
		t.Fatalf("expected 160x90 canvas, got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}

	// Top-left should be black padding, center should carry the source color.
	r, g, b, _ := out.At(0, 0).RGBA()
	if r > 0x1000 || g > 0x1000 || b > 0x1000 {
		t.Fatalf("expected black padding at corner, got r=%d g=%d b=%d", r, g, b)
	}
	r, _, _, _ = out.At(80, 45).RGBA()
	if r < 0x8000 {
		t.Fatalf("expected source pixel at center, got r=%d", r)
	}
}

func TestResizeAndPadRejectsBadSize(t *testing.T) {
	for _, size := range []string{"", "1280", "axb", "0x720", "1280x-1"} {
		if _, err := ResizeAndPad("does-not-matter.png", size); err == nil {
			t.Fatalf("expected error for size %q", size)
		}
	}
}
