// Package pdftool wraps the poppler-utils binaries (pdfinfo, pdffonts,
// pdftotext, pdfimages, pdftoppm) behind typed adapters, and adds raster
// caching, pixel diffing, and content digests on top. Validation layers use
// it for every look they take at a PDF.
package pdftool

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"brandforge/internal/logging"
)

// DefaultTimeout bounds a single poppler invocation.
const DefaultTimeout = 60 * time.Second

// Runner executes poppler binaries with a per-invocation timeout.
type Runner struct {
	timeout time.Duration
	log     *zap.SugaredLogger

	// execFn is swapped in tests to avoid requiring poppler on the host.
	execFn func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewRunner builds a Runner. A zero timeout falls back to DefaultTimeout.
func NewRunner(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Runner{
		timeout: timeout,
		log:     logging.Get(logging.CategoryValidation),
	}
	r.execFn = r.systemExec
	return r
}

// run invokes one binary and returns its stdout. Stderr is folded into the
// error; poppler tools print warnings there that must not pollute parsers.
func (r *Runner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	start := time.Now()
	out, err := r.execFn(ctx, name, args...)
	r.log.Debugw("pdftool exec",
		"bin", name,
		"args", args,
		"durationMs", time.Since(start).Milliseconds(),
		"err", err,
	)
	return out, err
}

func (r *Runner) systemExec(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %w: %s", name, err, string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
