// Package visual computes true per-pixel RGBA diffs between a baseline
// screenshot and a freshly captured one, replacing the histogram-based
// approximation the original gateway used.
package visual

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	xdraw "golang.org/x/image/draw"
)

// Diff is the result of comparing a baseline image against a candidate.
type Diff struct {
	MismatchPct float64
	DiffPixels  int
	TotalPixels int
	Image       []byte // encoded PNG highlighting mismatched pixels
}

// Compare decodes baselinePNG and candidatePNG, resizes candidate to match
// baseline's dimensions if they differ, and returns the per-pixel mismatch
// percentage along with a diff image with mismatched pixels painted red.
func Compare(baselinePNG, candidatePNG []byte) (*Diff, error) {
	baseline, err := decodePNG(baselinePNG)
	if err != nil {
		return nil, fmt.Errorf("visual: decode baseline: %w", err)
	}

	candidate, err := decodePNG(candidatePNG)
	if err != nil {
		return nil, fmt.Errorf("visual: decode candidate: %w", err)
	}

	bounds := baseline.Bounds()
	if candidate.Bounds() != bounds {
		resized := image.NewRGBA(bounds)
		xdraw.CatmullRom.Scale(resized, bounds, candidate, candidate.Bounds(), xdraw.Over, nil)
		candidate = resized
	}

	diffImg := image.NewRGBA(bounds)
	draw.Draw(diffImg, bounds, baseline, bounds.Min, draw.Src)

	mismatched := 0
	total := bounds.Dx() * bounds.Dy()

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			br, bg, bb, ba := baseline.At(x, y).RGBA()
			cr, cg, cb, ca := candidate.At(x, y).RGBA()

			if br != cr || bg != cg || bb != cb || ba != ca {
				mismatched++
				diffImg.Set(x, y, color.RGBA{R: 255, G: 0, B: 0, A: 255})
			}
		}
	}

	mismatchPct := 0.0
	if total > 0 {
		mismatchPct = (float64(mismatched) / float64(total)) * 100
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, diffImg); err != nil {
		return nil, fmt.Errorf("visual: encode diff: %w", err)
	}

	return &Diff{
		MismatchPct: mismatchPct,
		DiffPixels:  mismatched,
		TotalPixels: total,
		Image:       buf.Bytes(),
	}, nil
}

func decodePNG(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	return rgba, nil
}
