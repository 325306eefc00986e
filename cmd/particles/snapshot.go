package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/gogpu/particles"
)

// rasterize plots each particle as one pixel in the draw shader's color on
// a black width by height image. Clip space maps to the full image with +y
// up.
func rasterize(ps []particles.Particle, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	for _, p := range ps {
		x := int((p.Pos[0] + 1) / 2 * float32(width))
		y := int((1 - p.Pos[1]) / 2 * float32(height))
		x, y = min(x, width-1), min(y, height-1)
		if x < 0 || y < 0 {
			continue
		}
		c := particles.ColorOf(p)
		img.SetRGBA(x, y, color.RGBA{R: unorm8(c[0]), G: unorm8(c[1]), B: unorm8(c[2]), A: 255})
	}
	return img
}

func unorm8(v float32) uint8 {
	return uint8(min(max(v, 0), 1)*255 + 0.5)
}

// upscale enlarges src by an integer factor without filtering.
func upscale(src *image.RGBA, factor int) *image.RGBA {
	if factor <= 1 {
		return src
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// writeSnapshot rasterizes ps and writes the PNG to path.
func writeSnapshot(path string, ps []particles.Particle, cfg config) error {
	img := upscale(rasterize(ps, cfg.Width, cfg.Height), cfg.Scale)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
