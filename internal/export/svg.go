package export

import (
	"fmt"
	"os"
	"strings"

	"github.com/san-kum/snowmpm/internal/render"
)

// ImageToSVG converts a rendered frame to SVG. Braille cells become dots
// and density shades become filled squares; scale is pixels per sub-pixel.
func ImageToSVG(image string, scale float64) string {
	if image == "" {
		return ""
	}
	rows := strings.Split(strings.TrimRight(image, "\n"), "\n")
	cols := 0
	for _, row := range rows {
		cols = max(cols, len([]rune(row)))
	}

	width := float64(cols) * scale * 2       // 2 sub-pixels per cell
	height := float64(len(rows)) * scale * 4 // 4 sub-pixels per cell

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f" viewBox="0 0 %.0f %.0f">
<rect width="100%%" height="100%%" fill="#0a0a14"/>
<g fill="#e8f6ff">
`, width, height, width, height))

	dotRadius := scale * 0.4
	for row, line := range rows {
		for col, r := range []rune(line) {
			baseX := float64(col) * scale * 2
			baseY := float64(row) * scale * 4

			if level, ok := render.Shade(r); ok {
				if level > 0 {
					sb.WriteString(fmt.Sprintf(`<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill-opacity="%.2f"/>
`, baseX, baseY, scale*2, scale*4, level))
				}
				continue
			}
			for dy := 0; dy < 4; dy++ {
				for dx := 0; dx < 2; dx++ {
					if render.Dot(r, dx, dy) {
						cx := baseX + float64(dx)*scale + scale/2
						cy := baseY + float64(dy)*scale + scale/2
						sb.WriteString(fmt.Sprintf(`<circle cx="%.1f" cy="%.1f" r="%.1f"/>
`, cx, cy, dotRadius))
					}
				}
			}
		}
	}

	sb.WriteString("</g>\n</svg>")
	return sb.String()
}

// WriteSVG writes ImageToSVG(image, scale) to path.
func WriteSVG(path, image string, scale float64) error {
	svg := ImageToSVG(image, scale)
	if svg == "" {
		return fmt.Errorf("export: empty image")
	}
	return os.WriteFile(path, []byte(svg), 0644)
}
