package validation

import (
	"context"
	"fmt"
	"math"

	"brandforge/internal/job"
	"brandforge/internal/scorecard"
)

// Dimension tolerances in points.
const (
	pageSizeTolerancePt   = 1.0
	textBoundsTolerancePt = 0.5
)

// pageSizes maps the named presets a job may declare to expected portrait
// dimensions in points.
var pageSizes = map[string][2]float64{
	"letter":  {612, 792},
	"legal":   {612, 1008},
	"tabloid": {792, 1224},
	"a4":      {595.28, 841.89},
	"a3":      {841.89, 1190.55},
}

// PDFQuality is L2: mechanical soundness of the exported file. Every check
// is binary; one critical defect zeroes the layer.
type PDFQuality struct{}

func (*PDFQuality) ID() string   { return IDPDFQuality }
func (*PDFQuality) Name() string { return job.LayerPDFQuality }

func (l *PDFQuality) Run(ctx context.Context, t *Target, cfg Settings) (*scorecard.LayerResult, error) {
	r := newResult(l.ID(), l.Name(), cfg)

	dims, err := l.checkDimensions(ctx, t, cfg, r)
	if err != nil {
		return nil, err
	}
	bounds, err := l.checkTextBounds(ctx, t, r)
	if err != nil {
		return nil, err
	}
	images, err := l.checkImages(ctx, t, r)
	if err != nil {
		return nil, err
	}
	fonts, err := l.checkFonts(ctx, t, cfg, r)
	if err != nil {
		return nil, err
	}

	r.SubScores = []scorecard.SubScore{
		{Name: "dimensions", Score: boolScore(dims), Max: 1},
		{Name: "text_bounds", Score: boolScore(bounds), Max: 1},
		{Name: "images", Score: boolScore(images), Max: 1},
		{Name: "fonts", Score: boolScore(fonts), Max: 1},
	}
	if dims && bounds && images && fonts {
		r.Score = 1
	}
	return finish(r), nil
}

// checkDimensions compares the document page size against the job's named
// size, accepting either orientation within the tolerance.
func (l *PDFQuality) checkDimensions(ctx context.Context, t *Target, cfg Settings, r *scorecard.LayerResult) (bool, error) {
	name := optString(cfg.Options, "pageSize", t.Job.Export.PageSize)
	if name == "" {
		return true, nil
	}
	expected, ok := pageSizes[name]
	if !ok {
		return false, &ConfigurationError{Layer: job.LayerPDFQuality, Err: fmt.Errorf("unknown page size %q", name)}
	}

	stats, err := t.PDF.Info(ctx, t.Artifact.Path)
	if err != nil {
		return false, fmt.Errorf("pdf quality info: %w", err)
	}
	if stats.Encrypted {
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityCritical,
			Category: "document",
			Message:  "document is encrypted",
		})
		return false, nil
	}

	w, h := stats.PageWidthPt, stats.PageHeightPt
	if sizeMatches(w, h, expected[0], expected[1]) || sizeMatches(w, h, expected[1], expected[0]) {
		return true, nil
	}
	r.Findings = append(r.Findings, scorecard.Finding{
		Severity: scorecard.SeverityCritical,
		Category: "dimensions",
		Message:  fmt.Sprintf("page size %.2fx%.2fpt does not match %s (%.2fx%.2fpt)", w, h, name, expected[0], expected[1]),
	})
	return false, nil
}

func sizeMatches(w, h, ew, eh float64) bool {
	return math.Abs(w-ew) <= pageSizeTolerancePt && math.Abs(h-eh) <= pageSizeTolerancePt
}

func (l *PDFQuality) checkTextBounds(ctx context.Context, t *Target, r *scorecard.LayerResult) (bool, error) {
	layout, err := t.PDF.TextLayout(ctx, t.Artifact.Path)
	if err != nil {
		return false, fmt.Errorf("pdf quality layout: %w", err)
	}

	ok := true
	for pi, page := range layout.Pages {
		for _, block := range page.Blocks() {
			for _, line := range block.Lines {
				b := line.Box
				if b.XMin < -textBoundsTolerancePt || b.YMin < -textBoundsTolerancePt ||
					b.XMax > page.Width+textBoundsTolerancePt || b.YMax > page.Height+textBoundsTolerancePt {
					ok = false
					r.Findings = append(r.Findings, scorecard.Finding{
						Severity: scorecard.SeverityCritical,
						Category: "text_bounds",
						Message:  fmt.Sprintf("text extends past the page edge: %s", truncate(line.Text(), 40)),
						Page:     pi + 1,
					})
				}
			}
		}
	}
	return ok, nil
}

func (l *PDFQuality) checkImages(ctx context.Context, t *Target, r *scorecard.LayerResult) (bool, error) {
	images, err := t.PDF.Images(ctx, t.Artifact.Path)
	if err != nil {
		return false, fmt.Errorf("pdf quality images: %w", err)
	}

	ok := true
	for _, img := range images {
		if img.Width == 0 || img.Height == 0 {
			ok = false
			r.Findings = append(r.Findings, scorecard.Finding{
				Severity: scorecard.SeverityCritical,
				Category: "images",
				Message:  fmt.Sprintf("image %d has no pixel data, link likely unresolved at export", img.Num),
				Page:     img.Page,
			})
		}
	}
	return ok, nil
}

// checkFonts requires every font embedded and, when a whitelist is set,
// on it. An unembedded font means the viewer substitutes glyphs.
func (l *PDFQuality) checkFonts(ctx context.Context, t *Target, cfg Settings, r *scorecard.LayerResult) (bool, error) {
	fonts, err := t.PDF.Fonts(ctx, t.Artifact.Path)
	if err != nil {
		return false, fmt.Errorf("pdf quality fonts: %w", err)
	}
	whitelist := optStrings(cfg.Options, "fontWhitelist")

	ok := true
	for _, f := range fonts {
		if !f.Embedded {
			ok = false
			r.Findings = append(r.Findings, scorecard.Finding{
				Severity: scorecard.SeverityCritical,
				Category: "fonts",
				Message:  fmt.Sprintf("font %q is not embedded and will be substituted", f.BaseName()),
			})
			continue
		}
		if len(whitelist) > 0 && !fontAllowed(f.BaseName(), whitelist) {
			ok = false
			r.Findings = append(r.Findings, scorecard.Finding{
				Severity: scorecard.SeverityCritical,
				Category: "fonts",
				Message:  fmt.Sprintf("embedded font %q is not on the whitelist", f.BaseName()),
			})
		}
	}
	return ok, nil
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
