package pdftool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Print and screen intents rasterize at different densities.
const (
	PrintDPI  = 150
	ScreenDPI = 96

	defaultCachePages = 128
)

// Rasterizer renders PDF pages to PNG via pdftoppm and caches results by
// document digest, page and DPI, so the structural, visual and vision layers
// share one render per page.
type Rasterizer struct {
	runner *Runner
	dir    string
	cache  *lru.Cache[string, string]
}

// NewRasterizer writes PNGs under dir, which is created if missing.
func NewRasterizer(runner *Runner, dir string) (*Rasterizer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("raster dir: %w", err)
	}
	cache, err := lru.New[string, string](defaultCachePages)
	if err != nil {
		return nil, err
	}
	return &Rasterizer{runner: runner, dir: dir, cache: cache}, nil
}

// Page renders one page (1-based) and returns the PNG path. Cached renders
// are only reused while the file still exists.
func (rz *Rasterizer) Page(ctx context.Context, pdfPath string, page, dpi int) (string, error) {
	digest, err := Digest(pdfPath)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s:%d:%d", digest, page, dpi)
	if cached, ok := rz.cache.Get(key); ok {
		if _, err := os.Stat(cached); err == nil {
			return cached, nil
		}
		rz.cache.Remove(key)
	}

	// -singlefile drops the page-number suffix; pdftoppm appends ".png".
	stem := filepath.Join(rz.dir, fmt.Sprintf("%s-p%03d-%d", digest[:12], page, dpi))
	_, err = rz.runner.run(ctx, "pdftoppm",
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		"-singlefile",
		pdfPath, stem)
	if err != nil {
		return "", fmt.Errorf("rasterize page %d: %w", page, err)
	}
	out := stem + ".png"
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("rasterize page %d: output missing: %w", page, err)
	}
	rz.cache.Add(key, out)
	return out, nil
}

// Pages renders pages 1..pageCount and returns the PNG paths in order.
func (rz *Rasterizer) Pages(ctx context.Context, pdfPath string, pageCount, dpi int) ([]string, error) {
	paths := make([]string, 0, pageCount)
	for page := 1; page <= pageCount; page++ {
		p, err := rz.Page(ctx, pdfPath, page, dpi)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// IntentDPI maps an export intent name to its raster density.
func IntentDPI(intent string) int {
	if intent == "print" {
		return PrintDPI
	}
	return ScreenDPI
}
