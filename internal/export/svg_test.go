package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestImageToSVG(t *testing.T) {
	tests := []struct {
		name    string
		image   string
		circles int
		rects   int
	}{
		{"empty", "", 0, 0},
		{"braille", string([]rune{0x2800, 0x2801}) + "\n" + string([]rune{0x28ff, 0x2800}), 1 + 8, 1},
		{"density", "@ \n .", 0, 1 + 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svg := ImageToSVG(tt.image, 2)
			if tt.image == "" {
				if svg != "" {
					t.Errorf("expected empty output, got %q", svg)
				}
				return
			}
			if got := strings.Count(svg, "<circle"); got != tt.circles {
				t.Errorf("circles = %d, want %d", got, tt.circles)
			}
			// The background is one rect.
			if got := strings.Count(svg, "<rect"); got != tt.rects {
				t.Errorf("rects = %d, want %d", got, tt.rects)
			}
		})
	}
}

func TestWriteSVG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.svg")
	if err := WriteSVG(path, "@", 1); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "<?xml") {
		t.Errorf("unexpected file contents: %.40q", data)
	}
	if err := WriteSVG(path, "", 1); err == nil {
		t.Error("expected error for empty image")
	}
}
