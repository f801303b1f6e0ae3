// Package geometry holds the small amount of shape math the overlay
// renderer and prompt session share.
package geometry

// Rect is an axis-aligned box in image-pixel space.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BoundingBoxOf returns the axis-aligned box spanning all polygon
// vertices. ok is false only for an empty polygon. A single-vertex
// polygon yields a zero-size box at that vertex; that is a valid result,
// not an error.
func BoundingBoxOf(polygon [][2]float64) (Rect, bool) {
	if len(polygon) == 0 {
		return Rect{}, false
	}

	minX, minY := polygon[0][0], polygon[0][1]
	maxX, maxY := minX, minY
	for _, p := range polygon[1:] {
		if p[0] < minX {
			minX = p[0]
		}
		if p[0] > maxX {
			maxX = p[0]
		}
		if p[1] < minY {
			minY = p[1]
		}
		if p[1] > maxY {
			maxY = p[1]
		}
	}

	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}, true
}

// NormalizeBox orders two drag corners so x1 <= x2 and y1 <= y2.
// Zero-width or zero-height boxes pass through untouched; downstream
// validation of degenerate boxes is the model's responsibility.
func NormalizeBox(x1, y1, x2, y2 float64) (float64, float64, float64, float64) {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	return x1, y1, x2, y2
}

// PointInBounds reports whether (x, y) lies within a width x height
// image, edges inclusive.
func PointInBounds(x, y, width, height float64) bool {
	return x >= 0 && y >= 0 && x <= width && y <= height
}
