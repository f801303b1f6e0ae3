// Package render paints base imagery plus annotation overlays. The
// drawing calls are abstracted behind a small Surface interface so the
// pipeline logic stays testable without a real pixel buffer.
package render

import (
	"image"
	"image/color"
)

// StrokeStyle controls outline drawing.
type StrokeStyle struct {
	Width  float64
	Dashed bool
}

// Surface is the drawing capability the pipeline paints onto. A surface
// has a base layer for raster imagery and an overlay layer for shapes;
// Clear resets only the overlay. Implementations are not retained by
// the pipeline across renders.
type Surface interface {
	// Size returns the native pixel dimensions of the surface.
	Size() (width, height int)
	// Clear resets the overlay layer to fully transparent.
	Clear()
	// DrawImage paints img onto the base layer, scaled to fill the
	// surface's native dimensions exactly.
	DrawImage(img image.Image)
	// FillPolygon fills the implicitly-closed polygon on the overlay.
	FillPolygon(polygon [][2]float64, col color.RGBA)
	// StrokePolygon outlines the implicitly-closed polygon.
	StrokePolygon(polygon [][2]float64, col color.RGBA, style StrokeStyle)
	// FillRect fills an axis-aligned rectangle on the overlay.
	FillRect(x, y, width, height float64, col color.RGBA)
	// StrokeRect outlines an axis-aligned rectangle.
	StrokeRect(x, y, width, height float64, col color.RGBA, style StrokeStyle)
	// FillCircle fills a circle centered at (cx, cy).
	FillCircle(cx, cy, radius float64, col color.RGBA)
	// DrawText renders text with its baseline starting at (x, y).
	DrawText(x, y float64, text string, col color.RGBA)
}
