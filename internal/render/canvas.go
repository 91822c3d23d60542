package render

import "strings"

// Braille patterns: 2x4 dots per cell.
//
//	1 4
//	2 5
//	3 6
//	7 8
const brailleBase = 0x2800

var pixelMap = [4][2]uint32{
	{0x1, 0x8},
	{0x2, 0x10},
	{0x4, 0x20},
	{0x40, 0x80},
}

// dotBit returns the cell index and braille bit of sub-pixel (x, y) on a
// canvas width cells wide.
func dotBit(x, y, width int) (int, uint32) {
	return (y/4)*width + x/2, pixelMap[y%4][x%2]
}

// Dot reports whether sub-pixel (dx, dy) of braille cell r is raised.
func Dot(r rune, dx, dy int) bool {
	if r < brailleBase || r > brailleBase+0xff {
		return false
	}
	return uint32(r-brailleBase)&pixelMap[dy][dx] != 0
}

// Canvas is a grid of terminal cells.
type Canvas struct {
	Width, Height int
	Grid          [][]rune
}

func NewCanvas(w, h int) *Canvas {
	c := &Canvas{
		Width:  w,
		Height: h,
		Grid:   make([][]rune, h),
	}
	for i := range c.Grid {
		c.Grid[i] = make([]rune, w)
	}
	c.Clear()
	return c
}

// Set sets a dot at sub-pixel (x, y). The canvas is Width*2 by Height*4
// sub-pixels.
func (c *Canvas) Set(x, y int) {
	if x < 0 || y < 0 || x >= c.Width*2 || y >= c.Height*4 {
		return
	}
	c.Grid[y/4][x/2] |= rune(pixelMap[y%4][x%2])
}

// SetCell writes a rune into a whole cell.
func (c *Canvas) SetCell(col, row int, r rune) {
	if col < 0 || row < 0 || col >= c.Width || row >= c.Height {
		return
	}
	c.Grid[row][col] = r
}

func (c *Canvas) Clear() {
	for i := range c.Grid {
		for j := range c.Grid[i] {
			c.Grid[i][j] = brailleBase
		}
	}
}

func (c *Canvas) String() string {
	var b strings.Builder
	for _, row := range c.Grid {
		b.WriteString(string(row))
		b.WriteByte('\n')
	}
	return b.String()
}
