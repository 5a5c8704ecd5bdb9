// Package artifact models the PDF a worker hands to validation: the file
// plus the provenance the scorecard reports. It also owns the export
// stability wait, since "the file exists" and "the export finished" are
// different moments for a layout application writing multi-megabyte PDFs.
package artifact

import (
	"fmt"
	"os"
	"time"

	"brandforge/internal/job"
	"brandforge/internal/pdftool"
	"brandforge/internal/scorecard"
)

// Artifact is a produced PDF with provenance. Consumers treat it read-only.
type Artifact struct {
	Path       string
	PageCount  int
	Intent     job.Intent
	ProducedAt time.Time
	Digest     string

	Worker     string
	Preset     string
	DocumentID string

	// Previews holds rasterized page paths, filled lazily by layers that
	// render pages.
	Previews []string
}

// Meta is the provenance captured by the worker that produced the file.
type Meta struct {
	PageCount  int
	Intent     job.Intent
	Worker     string
	Preset     string
	DocumentID string
}

// New stats and fingerprints a produced file. An empty file is an export
// failure regardless of what the producer reported.
func New(path string, meta Meta) (*Artifact, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	if fi.Size() == 0 {
		return nil, fmt.Errorf("artifact %s: empty file", path)
	}
	digest, err := pdftool.Digest(path)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Path:       path,
		PageCount:  meta.PageCount,
		Intent:     meta.Intent,
		ProducedAt: time.Now().UTC(),
		Digest:     digest,
		Worker:     meta.Worker,
		Preset:     meta.Preset,
		DocumentID: meta.DocumentID,
	}, nil
}

// Provenance renders the scorecard view of this artifact.
func (a *Artifact) Provenance() scorecard.Provenance {
	return scorecard.Provenance{
		Worker:     a.Worker,
		Preset:     a.Preset,
		DocumentID: a.DocumentID,
		Digest:     a.Digest,
		ProducedAt: a.ProducedAt,
	}
}
