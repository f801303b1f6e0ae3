// Package colormap assigns stable, visually distinct colors to class ids
// and parses the textual color forms used by the dashboard legend.
package colormap

import (
	"fmt"
	"image/color"
	"math"
	"strings"
	"sync"
)

// goldenAngle spaces consecutive hues far apart on the wheel, keeping at
// least ~20 class ids mutually distinguishable before hues start to
// crowd.
const goldenAngle = 137.50776405003785

const (
	classSaturation = 0.70
	classLightness  = 0.50
)

// Fallback is used whenever a color string cannot be parsed. Rendering
// of the offending instance degrades to this color instead of failing
// the redraw.
var Fallback = color.RGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xff}

// Hue returns the hue in degrees for a class id.
func Hue(classID int) float64 {
	h := math.Mod(float64(classID)*goldenAngle, 360)
	if h < 0 {
		h += 360
	}
	return h
}

// ForClass deterministically maps a class id to an opaque RGBA color.
// The same id always yields the same color within a process run.
func ForClass(classID int) color.RGBA {
	return hslToRGB(Hue(classID), classSaturation, classLightness)
}

// HSLString returns the hsl(h, s%, l%) textual form for a class id, the
// shape shown in the dashboard legend.
func HSLString(classID int) string {
	return fmt.Sprintf("hsl(%d, %d%%, %d%%)",
		int(math.Round(Hue(classID))),
		int(classSaturation*100),
		int(classLightness*100))
}

// Parse recovers RGB components from a #rrggbb or hsl(h, s%, l%) color
// string. Colors arrive in both forms: generated ones as HSL, legend
// overrides as hex.
func Parse(s string) (color.RGBA, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "#"):
		return parseHex(s)
	case strings.HasPrefix(strings.ToLower(s), "hsl("):
		return parseHSL(s)
	default:
		return color.RGBA{}, fmt.Errorf("unrecognized color %q", s)
	}
}

// ParseOrFallback is Parse with the documented skip-and-continue
// behavior: a malformed string yields the fallback color, never an
// error.
func ParseOrFallback(s string) color.RGBA {
	c, err := Parse(s)
	if err != nil {
		return Fallback
	}
	return c
}

func parseHex(s string) (color.RGBA, error) {
	if len(s) != 7 {
		return color.RGBA{}, fmt.Errorf("hex color %q: want #rrggbb", s)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return color.RGBA{}, fmt.Errorf("hex color %q: %w", s, err)
	}
	return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
}

func parseHSL(s string) (color.RGBA, error) {
	if !strings.HasSuffix(s, ")") {
		return color.RGBA{}, fmt.Errorf("hsl color %q: missing closing paren", s)
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(strings.ToLower(s), "hsl("), ")")
	var h, sat, l float64
	if _, err := fmt.Sscanf(strings.ReplaceAll(inner, " ", ""), "%f,%f%%,%f%%", &h, &sat, &l); err != nil {
		return color.RGBA{}, fmt.Errorf("hsl color %q: %w", s, err)
	}
	if sat < 0 || sat > 100 || l < 0 || l > 100 {
		return color.RGBA{}, fmt.Errorf("hsl color %q: saturation/lightness out of range", s)
	}
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return hslToRGB(h, sat/100, l/100), nil
}

// hslToRGB converts hue (degrees), saturation and lightness (0..1) to an
// opaque RGBA color.
func hslToRGB(h, s, l float64) color.RGBA {
	c := (1 - math.Abs(2*l-1)) * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := l - c/2

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	return color.RGBA{
		R: uint8(math.Round((r + m) * 255)),
		G: uint8(math.Round((g + m) * 255)),
		B: uint8(math.Round((b + m) * 255)),
		A: 0xff,
	}
}

// Table is the append-only class color table for the lifetime of a
// view. Entries are created lazily on first encounter of a class id and
// never removed; stale entries are harmless.
type Table struct {
	mu     sync.Mutex
	colors map[int]color.RGBA
}

// NewTable returns an empty color table.
func NewTable() *Table {
	return &Table{colors: make(map[int]color.RGBA)}
}

// ColorFor returns the color for a class id, assigning one on first use.
func (t *Table) ColorFor(classID int) color.RGBA {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.colors[classID]; ok {
		return c
	}
	c := ForClass(classID)
	t.colors[classID] = c
	return c
}

// Len returns the number of assigned entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.colors)
}
