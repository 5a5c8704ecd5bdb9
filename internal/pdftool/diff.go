package pdftool

import (
	"fmt"
	"image"
	"image/png"
	"os"
)

// channelTolerance absorbs rounding jitter between renders of identical
// content; a pixel counts as different only past this per-channel delta.
const channelTolerance = 2

// DiffResult reports a pixel comparison of two rasters.
type DiffResult struct {
	PercentDiff  float64
	PixelsDiffer int
	TotalPixels  int
	Identical    bool
}

// PixelDiff compares two PNG files. Byte-identical files short-circuit via
// digest; dimension mismatches count as a full 100 percent diff.
func PixelDiff(aPath, bPath string) (*DiffResult, error) {
	da, err := Digest(aPath)
	if err != nil {
		return nil, err
	}
	db, err := Digest(bPath)
	if err != nil {
		return nil, err
	}
	if da == db {
		return &DiffResult{Identical: true}, nil
	}

	a, err := decodePNG(aPath)
	if err != nil {
		return nil, err
	}
	b, err := decodePNG(bPath)
	if err != nil {
		return nil, err
	}

	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return &DiffResult{
			PercentDiff:  100,
			PixelsDiffer: ab.Dx() * ab.Dy(),
			TotalPixels:  ab.Dx() * ab.Dy(),
		}, nil
	}

	total := ab.Dx() * ab.Dy()
	differ := 0
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			pa := a.At(ab.Min.X+x, ab.Min.Y+y)
			pb := b.At(bb.Min.X+x, bb.Min.Y+y)
			if !samePixel(pa, pb) {
				differ++
			}
		}
	}

	res := &DiffResult{
		PixelsDiffer: differ,
		TotalPixels:  total,
	}
	if total > 0 {
		res.PercentDiff = float64(differ) / float64(total) * 100
	}
	res.Identical = differ == 0
	return res, nil
}

func samePixel(a, b interface{ RGBA() (r, g, b, a uint32) }) bool {
	ar, ag, abl, aa := a.RGBA()
	br, bg, bbl, ba := b.RGBA()
	return within(ar, br) && within(ag, bg) && within(abl, bbl) && within(aa, ba)
}

// within compares 16-bit channel values with an 8-bit tolerance.
func within(a, b uint32) bool {
	const scale = 257
	d := int64(a) - int64(b)
	if d < 0 {
		d = -d
	}
	return d <= channelTolerance*scale
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raster %s: %w", path, err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode raster %s: %w", path, err)
	}
	return img, nil
}
