package pdftool

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DocumentStats is the subset of pdfinfo output the validation layers use.
type DocumentStats struct {
	Pages        int
	PageWidthPt  float64
	PageHeightPt float64
	PDFVersion   string
	Producer     string
	Creator      string
	Encrypted    bool
	Tagged       bool
}

// Info runs pdfinfo against the document.
func (r *Runner) Info(ctx context.Context, pdfPath string) (*DocumentStats, error) {
	out, err := r.run(ctx, "pdfinfo", pdfPath)
	if err != nil {
		return nil, fmt.Errorf("pdf info: %w", err)
	}
	return parseInfo(out)
}

func parseInfo(out []byte) (*DocumentStats, error) {
	stats := &DocumentStats{}
	for _, line := range strings.Split(string(out), "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Pages":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("parse pdfinfo pages %q: %w", value, err)
			}
			stats.Pages = n
		case "Page size":
			w, h, err := parsePageSize(value)
			if err != nil {
				return nil, err
			}
			stats.PageWidthPt, stats.PageHeightPt = w, h
		case "PDF version":
			stats.PDFVersion = value
		case "Producer":
			stats.Producer = value
		case "Creator":
			stats.Creator = value
		case "Encrypted":
			stats.Encrypted = strings.HasPrefix(value, "yes")
		case "Tagged":
			stats.Tagged = value == "yes"
		}
	}
	if stats.Pages == 0 {
		return nil, fmt.Errorf("pdfinfo output missing page count")
	}
	return stats, nil
}

// parsePageSize handles values like "612 x 792 pts (letter)".
func parsePageSize(value string) (float64, float64, error) {
	fields := strings.Fields(value)
	if len(fields) < 3 || fields[1] != "x" {
		return 0, 0, fmt.Errorf("parse pdfinfo page size %q", value)
	}
	w, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse pdfinfo page width %q: %w", fields[0], err)
	}
	h, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse pdfinfo page height %q: %w", fields[2], err)
	}
	return w, h, nil
}
