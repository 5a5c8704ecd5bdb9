package pdftool

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Text extracts the whole document's text layer in layout order.
func (r *Runner) Text(ctx context.Context, pdfPath string) (string, error) {
	out, err := r.run(ctx, "pdftotext", "-layout", pdfPath, "-")
	if err != nil {
		return "", fmt.Errorf("pdf text: %w", err)
	}
	return string(out), nil
}

// PageText extracts a single page's text layer.
func (r *Runner) PageText(ctx context.Context, pdfPath string, page int) (string, error) {
	out, err := r.run(ctx, "pdftotext", "-layout",
		"-f", strconv.Itoa(page), "-l", strconv.Itoa(page), pdfPath, "-")
	if err != nil {
		return "", fmt.Errorf("pdf text page %d: %w", page, err)
	}
	return string(out), nil
}

// Layout is the geometric text model from pdftotext -bbox-layout: pages of
// blocks of lines of words, all with bounding boxes in points. The structural
// layer classifies elements from it.
type Layout struct {
	Pages []LayoutPage `xml:"page"`
}

type LayoutPage struct {
	Width  float64      `xml:"width,attr"`
	Height float64      `xml:"height,attr"`
	Flows  []LayoutFlow `xml:"flow"`
}

// Blocks flattens the page's flows.
func (p LayoutPage) Blocks() []LayoutBlock {
	var blocks []LayoutBlock
	for _, f := range p.Flows {
		blocks = append(blocks, f.Blocks...)
	}
	return blocks
}

type LayoutFlow struct {
	Blocks []LayoutBlock `xml:"block"`
}

type LayoutBlock struct {
	Box
	Lines []LayoutLine `xml:"line"`
}

type LayoutLine struct {
	Box
	Words []LayoutWord `xml:"word"`
}

// Text joins the line's words.
func (l LayoutLine) Text() string {
	parts := make([]string, 0, len(l.Words))
	for _, w := range l.Words {
		parts = append(parts, w.Text)
	}
	return strings.Join(parts, " ")
}

type LayoutWord struct {
	Box
	Text string `xml:",chardata"`
}

// Box is an axis-aligned bounding box in page points.
type Box struct {
	XMin float64 `xml:"xMin,attr"`
	YMin float64 `xml:"yMin,attr"`
	XMax float64 `xml:"xMax,attr"`
	YMax float64 `xml:"yMax,attr"`
}

// Width is the horizontal extent.
func (b Box) Width() float64 { return b.XMax - b.XMin }

// Height is the vertical extent; for a line it approximates font size.
func (b Box) Height() float64 { return b.YMax - b.YMin }

// Overlaps reports whether two boxes intersect with positive area.
func (b Box) Overlaps(o Box) bool {
	return b.XMin < o.XMax && o.XMin < b.XMax && b.YMin < o.YMax && o.YMin < b.YMax
}

// layoutHTML matches the XHTML wrapper pdftotext emits around <doc>.
type layoutHTML struct {
	XMLName xml.Name `xml:"html"`
	Doc     Layout   `xml:"body>doc"`
}

// TextLayout extracts the geometric text model for the whole document.
func (r *Runner) TextLayout(ctx context.Context, pdfPath string) (*Layout, error) {
	out, err := r.run(ctx, "pdftotext", "-bbox-layout", pdfPath, "-")
	if err != nil {
		return nil, fmt.Errorf("pdf text layout: %w", err)
	}
	return parseLayout(out)
}

func parseLayout(out []byte) (*Layout, error) {
	var doc layoutHTML
	if err := xml.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("parse bbox layout: %w", err)
	}
	return &doc.Doc, nil
}
