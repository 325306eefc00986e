package main

import (
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gogpu/particles"
)

func TestRasterize(t *testing.T) {
	ps := []particles.Particle{
		{Pos: [2]float32{-1, 1}, Vel: [2]float32{10, 0}}, // top-left, full speed
		{Pos: [2]float32{0.99, -0.99}},                   // bottom-right, at rest
		{Pos: [2]float32{5, 5}, Vel: [2]float32{10, 0}},  // off screen
	}
	img := rasterize(ps, 8, 8)

	if got := img.RGBAAt(0, 0); got != (color.RGBA{255, 128, 204, 255}) {
		t.Errorf("top-left = %+v, want particle color", got)
	}
	if got := img.RGBAAt(7, 7); got != (color.RGBA{50, 0, 0, 255}) {
		t.Errorf("bottom-right = %+v, want resting particle color", got)
	}
	if got := img.RGBAAt(4, 4); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("background = %+v, want black", got)
	}
}

func TestUpscale(t *testing.T) {
	src := rasterize([]particles.Particle{{Pos: [2]float32{-1, 1}, Vel: [2]float32{10, 0}}}, 4, 2)
	dst := upscale(src, 3)
	if b := dst.Bounds(); b.Dx() != 12 || b.Dy() != 6 {
		t.Fatalf("bounds = %v, want 12x6", b)
	}
	for _, pt := range [][2]int{{0, 0}, {2, 2}} {
		if dst.RGBAAt(pt[0], pt[1]) != src.RGBAAt(0, 0) {
			t.Errorf("pixel %v not replicated", pt)
		}
	}
	if upscale(src, 1) != src {
		t.Error("factor 1 copied the image")
	}
}

func TestWriteSnapshot(t *testing.T) {
	cfg := defaultConfig()
	cfg.Width, cfg.Height, cfg.Scale = 16, 8, 2
	path := filepath.Join(t.TempDir(), "frame.png")

	if err := writeSnapshot(path, nil, cfg); err != nil {
		t.Fatalf("writeSnapshot: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 16 {
		t.Errorf("bounds = %v, want 32x16", b)
	}
}
