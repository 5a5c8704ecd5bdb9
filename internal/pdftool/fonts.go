package pdftool

import (
	"context"
	"fmt"
	"strings"
)

// FontInfo is one row of pdffonts output.
type FontInfo struct {
	Name      string
	Type      string
	Encoding  string
	Embedded  bool
	Subset    bool
	ToUnicode bool
}

// BaseName strips the six-letter subset prefix ("ABCDEF+Helvetica") so
// whitelist globs match the family name the designer knows.
func (f FontInfo) BaseName() string {
	if len(f.Name) > 7 && f.Name[6] == '+' && isUpperAlpha(f.Name[:6]) {
		return f.Name[7:]
	}
	return f.Name
}

func isUpperAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Fonts runs pdffonts against the document.
func (r *Runner) Fonts(ctx context.Context, pdfPath string) ([]FontInfo, error) {
	out, err := r.run(ctx, "pdffonts", pdfPath)
	if err != nil {
		return nil, fmt.Errorf("pdf fonts: %w", err)
	}
	return parseFonts(out)
}

// parseFonts slices pdffonts' fixed-width table by the column offsets found
// in the header row. Font names and types contain spaces, so Fields-style
// splitting is not an option.
func parseFonts(out []byte) ([]FontInfo, error) {
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(lines) < 2 {
		return nil, nil
	}
	header := lines[0]
	cols := []string{"name", "type", "encoding", "emb", "sub", "uni", "object ID"}
	offsets := make([]int, 0, len(cols))
	for _, col := range cols {
		idx := strings.Index(header, col)
		if idx < 0 {
			return nil, fmt.Errorf("pdffonts header missing column %q", col)
		}
		offsets = append(offsets, idx)
	}

	var fonts []FontInfo
	for _, line := range lines[2:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		column := func(i int) string {
			start := offsets[i]
			if start >= len(line) {
				return ""
			}
			end := len(line)
			if i+1 < len(offsets) && offsets[i+1] < end {
				end = offsets[i+1]
			}
			return strings.TrimSpace(line[start:end])
		}
		fonts = append(fonts, FontInfo{
			Name:      column(0),
			Type:      column(1),
			Encoding:  column(2),
			Embedded:  column(3) == "yes",
			Subset:    column(4) == "yes",
			ToUnicode: column(5) == "yes",
		})
	}
	return fonts, nil
}
