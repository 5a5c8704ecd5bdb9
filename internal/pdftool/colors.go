package pdftool

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// sampleStride skips pixels during coverage scans. Brand color checks care
// about solid fills, not single pixels, so a coarse grid is enough.
const sampleStride = 2

// ParseHexColor parses "#RRGGBB" or "RRGGBB" into an opaque RGBA.
func ParseHexColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.RGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 0xff,
	}, nil
}

// ColorCoverage scans a PNG raster and returns, per requested color, the
// fraction [0,1] of sampled pixels whose channels all fall within tol of it.
func ColorCoverage(path string, colors []color.RGBA, tol uint8) ([]float64, error) {
	img, err := decodePNG(path)
	if err != nil {
		return nil, err
	}

	matched := make([]int, len(colors))
	sampled := 0
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y += sampleStride {
		for x := bounds.Min.X; x < bounds.Max.X; x += sampleStride {
			sampled++
			r, g, b, _ := img.At(x, y).RGBA()
			for i, c := range colors {
				if channelClose(r, c.R, tol) && channelClose(g, c.G, tol) && channelClose(b, c.B, tol) {
					matched[i]++
				}
			}
		}
	}

	coverage := make([]float64, len(colors))
	if sampled == 0 {
		return coverage, nil
	}
	for i, m := range matched {
		coverage[i] = float64(m) / float64(sampled)
	}
	return coverage, nil
}

// channelClose compares a 16-bit sample channel against an 8-bit target.
func channelClose(sample uint32, target, tol uint8) bool {
	const scale = 257
	d := int64(sample) - int64(target)*scale
	if d < 0 {
		d = -d
	}
	return d <= int64(tol)*scale
}
