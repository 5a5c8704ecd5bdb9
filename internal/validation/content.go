package validation

import (
	"context"
	"fmt"
	"image/color"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"brandforge/internal/job"
	"brandforge/internal/pdftool"
	"brandforge/internal/scorecard"
)

// L1 rubric budgets, summing to the layer's 150-point max.
const (
	identityBudget   = 25.0
	metricsBudget    = 15.0
	sectionsBudget   = 35.0
	pageCountBudget  = 25.0
	resolutionBudget = 25.0
	colorsBudget     = 15.0
	fontsBudget      = 10.0
)

// Minimum effective PPI per export intent.
const (
	minPrintPPI  = 300
	minScreenPPI = 144
)

// Raster sampling thresholds for ink-color checks. A required color must
// cover at least requiredCoverageMin of sampled pixels on some page; a
// forbidden color trips at forbiddenCoverageMax.
const (
	colorTolerance       = 24
	requiredCoverageMin  = 0.0005
	forbiddenCoverageMax = 0.001
)

// Content is L1: the 0-150 content and brand rubric. Identity tokens,
// metric values and section headings come from job.content; color, font
// and resolution constraints from the layer options.
type Content struct{}

func (*Content) ID() string   { return IDContent }
func (*Content) Name() string { return job.LayerContent }

func (l *Content) Run(ctx context.Context, t *Target, cfg Settings) (*scorecard.LayerResult, error) {
	r := newResult(l.ID(), l.Name(), cfg)

	text, err := t.PDF.Text(ctx, t.Artifact.Path)
	if err != nil {
		return nil, fmt.Errorf("content text extraction: %w", err)
	}
	lower := strings.ToLower(text)

	identity := scoreIdentity(t.Job, lower, r)
	metrics := scoreMetrics(t.Job, lower, r)
	sections := scoreSections(t.Job, lower, r)
	pages := scorePageCount(t, cfg, r)

	resolution, err := scoreResolution(ctx, t, cfg, r)
	if err != nil {
		return nil, err
	}
	colors, err := scoreColors(ctx, t, cfg, r)
	if err != nil {
		return nil, err
	}
	fonts, err := scoreFonts(ctx, t, cfg, r)
	if err != nil {
		return nil, err
	}

	r.SubScores = []scorecard.SubScore{
		{Name: "tokens_identity", Score: round2(identity), Max: identityBudget},
		{Name: "tokens_metrics", Score: round2(metrics), Max: metricsBudget},
		{Name: "sections", Score: round2(sections), Max: sectionsBudget},
		{Name: "page_count", Score: round2(pages), Max: pageCountBudget},
		{Name: "image_resolution", Score: round2(resolution), Max: resolutionBudget},
		{Name: "brand_compliance", Score: round2(colors + fonts), Max: colorsBudget + fontsBudget},
	}
	r.Score = round2(identity + metrics + sections + pages + resolution + colors + fonts)
	return finish(r), nil
}

// scoreIdentity checks the organization and partner names. These are the
// tokens a brand document must never drop, so absence is critical.
func scoreIdentity(j *job.Job, lower string, r *scorecard.LayerResult) float64 {
	var tokens []string
	if org := j.ContentString("organization"); org != "" {
		tokens = append(tokens, org)
	}
	if partner := j.ContentString("partner"); partner != "" {
		tokens = append(tokens, partner)
	}
	if len(tokens) == 0 {
		return identityBudget
	}

	found := 0
	for _, tok := range tokens {
		if strings.Contains(lower, strings.ToLower(tok)) {
			found++
			continue
		}
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityCritical,
			Category: "tokens",
			Message:  fmt.Sprintf("required identity token %q not found in document text", tok),
		})
	}
	return identityBudget * float64(found) / float64(len(tokens))
}

func scoreMetrics(j *job.Job, lower string, r *scorecard.LayerResult) float64 {
	values := metricValues(j)
	if len(values) == 0 {
		return metricsBudget
	}

	found := 0
	for _, v := range values {
		if strings.Contains(lower, strings.ToLower(v)) {
			found++
			continue
		}
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityWarning,
			Category: "tokens",
			Message:  fmt.Sprintf("metric value %q not found in document text", v),
		})
	}
	return metricsBudget * float64(found) / float64(len(values))
}

// metricValues flattens content.metrics into the strings the document is
// expected to print. JSON numbers render without a trailing ".0".
func metricValues(j *job.Job) []string {
	raw, ok := j.Content["metrics"]
	if !ok {
		return nil
	}
	var out []string
	appendValue := func(v any) {
		switch n := v.(type) {
		case string:
			if n != "" {
				out = append(out, n)
			}
		case float64:
			out = append(out, strconv.FormatFloat(n, 'f', -1, 64))
		case int:
			out = append(out, strconv.Itoa(n))
		case bool:
			out = append(out, strconv.FormatBool(n))
		}
	}
	switch m := raw.(type) {
	case map[string]any:
		for _, name := range sortedKeys(m) {
			appendValue(m[name])
		}
	case []any:
		for _, v := range m {
			appendValue(v)
		}
	}
	return out
}

func scoreSections(j *job.Job, lower string, r *scorecard.LayerResult) float64 {
	sections := contentStrings(j, "sections")
	if len(sections) == 0 {
		return sectionsBudget
	}

	found := 0
	for _, s := range sections {
		if strings.Contains(lower, strings.ToLower(s)) {
			found++
			continue
		}
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityWarning,
			Category: "sections",
			Message:  fmt.Sprintf("required section %q not found", s),
		})
	}
	return sectionsBudget * float64(found) / float64(len(sections))
}

func scorePageCount(t *Target, cfg Settings, r *scorecard.LayerResult) float64 {
	expected := int(optFloat(cfg.Options, "expectedPages", 0))
	if expected == 0 {
		if v, ok := t.Job.Content["pageCount"].(float64); ok {
			expected = int(v)
		}
	}
	if expected <= 0 {
		return pageCountBudget
	}
	if t.Artifact.PageCount == expected {
		return pageCountBudget
	}
	r.Findings = append(r.Findings, scorecard.Finding{
		Severity: scorecard.SeverityWarning,
		Category: "pages",
		Message:  fmt.Sprintf("expected %d pages, artifact has %d", expected, t.Artifact.PageCount),
	})
	return 0
}

func scoreResolution(ctx context.Context, t *Target, cfg Settings, r *scorecard.LayerResult) (float64, error) {
	images, err := t.PDF.Images(ctx, t.Artifact.Path)
	if err != nil {
		return 0, fmt.Errorf("content image inventory: %w", err)
	}
	if len(images) == 0 {
		return resolutionBudget, nil
	}

	floor := minScreenPPI
	if t.Job.EffectiveIntent() == job.IntentPrint {
		floor = minPrintPPI
	}
	floor = int(optFloat(cfg.Options, "minPPI", float64(floor)))

	adequate := 0
	for _, img := range images {
		if img.EffectivePPI() >= floor {
			adequate++
			continue
		}
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityWarning,
			Category: "images",
			Message:  fmt.Sprintf("image %d effective resolution %dppi below the %dppi floor", img.Num, img.EffectivePPI(), floor),
			Page:     img.Page,
		})
	}
	return resolutionBudget * float64(adequate) / float64(len(images)), nil
}

// scoreColors rasterizes every page once and checks required ink presence
// and forbidden ink absence across the whole document.
func scoreColors(ctx context.Context, t *Target, cfg Settings, r *scorecard.LayerResult) (float64, error) {
	required := optStrings(cfg.Options, "requiredColors")
	forbidden := optStrings(cfg.Options, "forbiddenColors")
	if len(required) == 0 && len(forbidden) == 0 {
		return colorsBudget, nil
	}

	targets := make([]color.RGBA, 0, len(required)+len(forbidden))
	for _, hex := range append(append([]string{}, required...), forbidden...) {
		c, err := pdftool.ParseHexColor(hex)
		if err != nil {
			return 0, &ConfigurationError{Layer: job.LayerContent, Err: err}
		}
		targets = append(targets, c)
	}

	pages, err := t.Raster.Pages(ctx, t.Artifact.Path, t.Artifact.PageCount, pdftool.ScreenDPI)
	if err != nil {
		return 0, fmt.Errorf("content color rasterization: %w", err)
	}

	peak := make([]float64, len(targets))
	for _, page := range pages {
		coverage, err := pdftool.ColorCoverage(page, targets, colorTolerance)
		if err != nil {
			return 0, fmt.Errorf("content color sampling: %w", err)
		}
		for i, c := range coverage {
			if c > peak[i] {
				peak[i] = c
			}
		}
	}

	constraints := len(required) + len(forbidden)
	satisfied := 0
	for i, hex := range required {
		if peak[i] >= requiredCoverageMin {
			satisfied++
			continue
		}
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityCritical,
			Category: "colors",
			Message:  fmt.Sprintf("required brand color %s not found on any page", hex),
		})
	}
	for i, hex := range forbidden {
		if peak[len(required)+i] < forbiddenCoverageMax {
			satisfied++
			continue
		}
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityCritical,
			Category: "colors",
			Message:  fmt.Sprintf("forbidden color %s covers %.2f%% of a page", hex, peak[len(required)+i]*100),
		})
	}
	return colorsBudget * float64(satisfied) / float64(constraints), nil
}

func scoreFonts(ctx context.Context, t *Target, cfg Settings, r *scorecard.LayerResult) (float64, error) {
	whitelist := optStrings(cfg.Options, "fontWhitelist")
	if len(whitelist) == 0 {
		return fontsBudget, nil
	}

	fonts, err := t.PDF.Fonts(ctx, t.Artifact.Path)
	if err != nil {
		return 0, fmt.Errorf("content font inventory: %w", err)
	}
	if len(fonts) == 0 {
		return fontsBudget, nil
	}

	allowed := 0
	for _, f := range fonts {
		if fontAllowed(f.BaseName(), whitelist) {
			allowed++
			continue
		}
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityWarning,
			Category: "fonts",
			Message:  fmt.Sprintf("font %q is not on the brand whitelist", f.BaseName()),
		})
	}
	return fontsBudget * float64(allowed) / float64(len(fonts)), nil
}

func fontAllowed(name string, whitelist []string) bool {
	for _, pattern := range whitelist {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

func contentStrings(j *job.Job, key string) []string {
	raw, ok := j.Content[key]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, v := range items {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// sortedKeys keeps finding order deterministic across runs.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
