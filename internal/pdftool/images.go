package pdftool

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ImageInfo is one row of pdfimages -list output.
type ImageInfo struct {
	Page   int
	Num    int
	Type   string
	Width  int
	Height int
	Color  string
	XPPI   int
	YPPI   int
}

// EffectivePPI is the lower of the two axes, the number that matters for
// print adequacy.
func (i ImageInfo) EffectivePPI() int {
	if i.XPPI < i.YPPI {
		return i.XPPI
	}
	return i.YPPI
}

// Images runs pdfimages -list against the document.
func (r *Runner) Images(ctx context.Context, pdfPath string) ([]ImageInfo, error) {
	out, err := r.run(ctx, "pdfimages", "-list", pdfPath)
	if err != nil {
		return nil, fmt.Errorf("pdf images: %w", err)
	}
	return parseImages(out)
}

// parseImages reads the whitespace table pdfimages prints. Rows carry 16
// columns; the separator line of dashes starts the data section.
func parseImages(out []byte) ([]ImageInfo, error) {
	var images []ImageInfo
	inBody := false
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "---") {
			inBody = true
			continue
		}
		if !inBody {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 14 {
			continue
		}
		page, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		num, _ := strconv.Atoi(fields[1])
		width, _ := strconv.Atoi(fields[3])
		height, _ := strconv.Atoi(fields[4])
		img := ImageInfo{
			Page:   page,
			Num:    num,
			Type:   fields[2],
			Width:  width,
			Height: height,
			Color:  fields[5],
		}
		// x-ppi and y-ppi sit at fixed positions from the row start:
		// page num type width height color comp bpc enc interp object ID x-ppi y-ppi
		if v, err := strconv.Atoi(fields[12]); err == nil {
			img.XPPI = v
		}
		if v, err := strconv.Atoi(fields[13]); err == nil {
			img.YPPI = v
		}
		images = append(images, img)
	}
	return images, nil
}
