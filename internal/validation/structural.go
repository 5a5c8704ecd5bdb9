package validation

import (
	"context"
	"fmt"
	"math"
	"sort"

	"brandforge/internal/job"
	"brandforge/internal/pdftool"
	"brandforge/internal/scorecard"
)

// Element classification thresholds, relative to the median line height.
const (
	titleHeightFactor   = 1.8
	headingHeightFactor = 1.3
	captionHeightFactor = 0.8

	// Text closer than this to a page edge counts as a margin violation.
	minMarginPt = 9.0

	overlapPenalty = 0.1
	marginPenalty  = 0.1
)

// Composition of the three structural sub-scores into the 0-1 layer score.
const (
	hierarchyShare = 0.40
	spatialShare   = 0.35
	semanticShare  = 0.25
)

// Structural is L0: semantic document analysis over the text layout tree.
// Lines are classified by height percentile and position, then composed
// into hierarchy, spatial and semantic-role sub-scores.
type Structural struct{}

func (*Structural) ID() string   { return IDStructural }
func (*Structural) Name() string { return job.LayerStructural }

type classifiedLine struct {
	role string
	page int
	box  pdftool.Box
	text string
}

func (l *Structural) Run(ctx context.Context, t *Target, cfg Settings) (*scorecard.LayerResult, error) {
	r := newResult(l.ID(), l.Name(), cfg)

	layout, err := t.PDF.TextLayout(ctx, t.Artifact.Path)
	if err != nil {
		return nil, fmt.Errorf("structural layout extraction: %w", err)
	}

	lines, median := collectLines(layout)
	if len(lines) == 0 {
		r.Findings = append(r.Findings, scorecard.Finding{
			Severity: scorecard.SeverityCritical,
			Category: "structure",
			Message:  "no text content extracted from any page",
		})
		return finish(r), nil
	}

	classified := classifyLines(lines, median, layout)

	images, err := t.PDF.Images(ctx, t.Artifact.Path)
	if err != nil {
		return nil, fmt.Errorf("structural image inventory: %w", err)
	}

	hierarchy := hierarchyScore(classified)
	spatial := spatialScore(layout, r)
	semantic := semanticScore(classified, len(images))

	r.SubScores = []scorecard.SubScore{
		{Name: "hierarchy", Score: round2(hierarchy), Max: 1},
		{Name: "spatial", Score: round2(spatial), Max: 1},
		{Name: "semantic_roles", Score: round2(semantic), Max: 1},
	}
	r.Score = round2(hierarchyShare*hierarchy + spatialShare*spatial + semanticShare*semantic)

	counts := map[string]int{}
	for _, c := range classified {
		counts[c.role]++
	}
	r.Findings = append(r.Findings, scorecard.Finding{
		Severity: scorecard.SeverityInfo,
		Category: "structure",
		Message: fmt.Sprintf("classified %d title, %d heading, %d body, %d caption lines; %d figures",
			counts["title"], counts["heading"], counts["body"], counts["caption"], len(images)),
	})
	return finish(r), nil
}

func collectLines(layout *pdftool.Layout) ([]classifiedLine, float64) {
	var lines []classifiedLine
	var heights []float64
	for pi, page := range layout.Pages {
		for _, block := range page.Blocks() {
			for _, line := range block.Lines {
				text := line.Text()
				if text == "" {
					continue
				}
				lines = append(lines, classifiedLine{page: pi + 1, box: line.Box, text: text})
				heights = append(heights, line.Box.Height())
			}
		}
	}
	if len(heights) == 0 {
		return nil, 0
	}
	sort.Float64s(heights)
	return lines, heights[len(heights)/2]
}

func classifyLines(lines []classifiedLine, median float64, layout *pdftool.Layout) []classifiedLine {
	for i := range lines {
		h := lines[i].box.Height()
		pageH := layout.Pages[lines[i].page-1].Height
		switch {
		case h >= titleHeightFactor*median && lines[i].page == 1 && lines[i].box.YMin <= pageH/3:
			lines[i].role = "title"
		case h >= headingHeightFactor*median:
			lines[i].role = "heading"
		case h <= captionHeightFactor*median:
			lines[i].role = "caption"
		default:
			lines[i].role = "body"
		}
	}
	return lines
}

func hierarchyScore(lines []classifiedLine) float64 {
	var hasTitle, hasHeading, hasBody bool
	for _, l := range lines {
		switch l.role {
		case "title":
			hasTitle = true
		case "heading":
			hasHeading = true
		case "body":
			hasBody = true
		}
	}
	score := 0.0
	if hasTitle {
		score += 0.4
	}
	if hasHeading {
		score += 0.3
	}
	if hasBody {
		score += 0.3
	}
	return score
}

// spatialScore penalizes overlapping text blocks and text hugging the page
// edge, appending a finding per defect.
func spatialScore(layout *pdftool.Layout, r *scorecard.LayerResult) float64 {
	penalty := 0.0
	for pi, page := range layout.Pages {
		blocks := page.Blocks()
		for i := 0; i < len(blocks); i++ {
			for k := i + 1; k < len(blocks); k++ {
				if blocks[i].Box.Overlaps(blocks[k].Box) {
					penalty += overlapPenalty
					r.Findings = append(r.Findings, scorecard.Finding{
						Severity: scorecard.SeverityWarning,
						Category: "spatial",
						Message:  "overlapping text blocks",
						Page:     pi + 1,
					})
				}
			}
		}
		for _, block := range blocks {
			for _, line := range block.Lines {
				b := line.Box
				if b.XMin < minMarginPt || b.YMin < minMarginPt ||
					b.XMax > page.Width-minMarginPt || b.YMax > page.Height-minMarginPt {
					penalty += marginPenalty
					r.Findings = append(r.Findings, scorecard.Finding{
						Severity: scorecard.SeverityWarning,
						Category: "spatial",
						Message:  fmt.Sprintf("text within %.0fpt of page edge: %s", minMarginPt, truncate(line.Text(), 40)),
						Page:     pi + 1,
					})
				}
			}
		}
	}
	return math.Max(0, 1-penalty)
}

func semanticScore(lines []classifiedLine, figures int) float64 {
	roles := map[string]bool{}
	for _, l := range lines {
		roles[l.role] = true
	}
	if figures > 0 {
		roles["figure"] = true
	}
	score := float64(len(roles)) / 4
	if score > 1 {
		score = 1
	}
	return score
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
