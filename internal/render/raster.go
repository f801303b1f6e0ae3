package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sort"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSurface is a software-rasterized Surface backed by two stacked
// RGBA buffers sized to the image's native resolution: a base layer for
// the raster frame and an overlay layer for shapes. The layers are
// flattened on demand by Composite.
type ImageSurface struct {
	base    *image.RGBA
	overlay *image.RGBA
}

// NewImageSurface allocates a surface with the given native dimensions.
func NewImageSurface(width, height int) *ImageSurface {
	r := image.Rect(0, 0, width, height)
	return &ImageSurface{
		base:    image.NewRGBA(r),
		overlay: image.NewRGBA(r),
	}
}

// Size returns the native pixel dimensions.
func (s *ImageSurface) Size() (int, int) {
	b := s.base.Bounds()
	return b.Dx(), b.Dy()
}

// Clear resets the overlay layer to fully transparent. The base layer
// is left alone; DrawImage overwrites it wholesale.
func (s *ImageSurface) Clear() {
	for i := range s.overlay.Pix {
		s.overlay.Pix[i] = 0
	}
}

// DrawImage paints img scaled to fill the base layer exactly, 1:1 with
// the native resolution. No letterboxing.
func (s *ImageSurface) DrawImage(img image.Image) {
	xdraw.ApproxBiLinear.Scale(s.base, s.base.Bounds(), img, img.Bounds(), xdraw.Src, nil)
}

// FillPolygon fills the implicitly-closed polygon with an even-odd
// parity scanline sweep.
func (s *ImageSurface) FillPolygon(polygon [][2]float64, col color.RGBA) {
	n := len(polygon)
	if n == 0 {
		return
	}
	if n < 3 {
		// Degenerate polygons have no interior; paint the vertices so
		// the instance is still visible.
		for _, p := range polygon {
			s.blend(int(math.Round(p[0])), int(math.Round(p[1])), col)
		}
		return
	}

	minY, maxY := polygon[0][1], polygon[0][1]
	for _, p := range polygon[1:] {
		if p[1] < minY {
			minY = p[1]
		}
		if p[1] > maxY {
			maxY = p[1]
		}
	}

	_, height := s.Size()
	yStart := clampInt(int(math.Floor(minY)), 0, height-1)
	yEnd := clampInt(int(math.Ceil(maxY)), 0, height-1)

	xs := make([]float64, 0, 8)
	for y := yStart; y <= yEnd; y++ {
		yc := float64(y) + 0.5
		xs = xs[:0]
		for i := 0; i < n; i++ {
			x0, y0 := polygon[i][0], polygon[i][1]
			x1, y1 := polygon[(i+1)%n][0], polygon[(i+1)%n][1]
			if (y0 <= yc) == (y1 <= yc) {
				continue
			}
			t := (yc - y0) / (y1 - y0)
			xs = append(xs, x0+t*(x1-x0))
		}
		sort.Float64s(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			s.hspan(int(math.Ceil(xs[i]-0.5)), int(math.Floor(xs[i+1]-0.5)), y, col)
		}
	}
}

// StrokePolygon outlines the implicitly-closed polygon.
func (s *ImageSurface) StrokePolygon(polygon [][2]float64, col color.RGBA, style StrokeStyle) {
	n := len(polygon)
	if n == 0 {
		return
	}
	if n == 1 {
		s.FillCircle(polygon[0][0], polygon[0][1], math.Max(style.Width/2, 0.5), col)
		return
	}
	for i := 0; i < n; i++ {
		a, b := polygon[i], polygon[(i+1)%n]
		s.line(a[0], a[1], b[0], b[1], col, style)
	}
}

// FillRect fills an axis-aligned rectangle on the overlay.
func (s *ImageSurface) FillRect(x, y, width, height float64, col color.RGBA) {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	x1 := int(math.Ceil(x + width))
	y1 := int(math.Ceil(y + height))
	for yy := y0; yy < y1; yy++ {
		s.hspan(x0, x1-1, yy, col)
	}
}

// StrokeRect outlines an axis-aligned rectangle.
func (s *ImageSurface) StrokeRect(x, y, width, height float64, col color.RGBA, style StrokeStyle) {
	s.StrokePolygon([][2]float64{
		{x, y},
		{x + width, y},
		{x + width, y + height},
		{x, y + height},
	}, col, style)
}

// FillCircle fills a circle centered at (cx, cy).
func (s *ImageSurface) FillCircle(cx, cy, radius float64, col color.RGBA) {
	r := int(math.Ceil(radius))
	rsq := radius * radius
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if float64(dx*dx+dy*dy) <= rsq {
				s.blend(int(math.Round(cx))+dx, int(math.Round(cy))+dy, col)
			}
		}
	}
}

// DrawText renders text with its baseline starting at (x, y).
func (s *ImageSurface) DrawText(x, y float64, text string, col color.RGBA) {
	d := &font.Drawer{
		Dst:  s.overlay,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(int(math.Round(x)), int(math.Round(y))),
	}
	d.DrawString(text)
}

// Composite flattens the overlay over the base layer into a fresh image.
func (s *ImageSurface) Composite() *image.RGBA {
	out := image.NewRGBA(s.base.Bounds())
	copy(out.Pix, s.base.Pix)
	draw.Draw(out, out.Bounds(), s.overlay, image.Point{}, draw.Over)
	return out
}

// TextWidth returns the advance width of text in the label face.
func TextWidth(text string) float64 {
	return float64(font.MeasureString(basicfont.Face7x13, text).Ceil())
}

// TextHeight is the line height of the label face.
const TextHeight = 13

const (
	dashOn  = 6
	dashOff = 4
)

// line stamps a brush of the stroke width along the segment, honoring
// the dash pattern for transient shapes.
func (s *ImageSurface) line(x0, y0, x1, y1 float64, col color.RGBA, style StrokeStyle) {
	steps := int(math.Max(math.Abs(x1-x0), math.Abs(y1-y0)))
	if steps == 0 {
		steps = 1
	}
	half := int(math.Max(style.Width, 1)) / 2
	for i := 0; i <= steps; i++ {
		if style.Dashed && i%(dashOn+dashOff) >= dashOn {
			continue
		}
		t := float64(i) / float64(steps)
		px := int(math.Round(x0 + t*(x1-x0)))
		py := int(math.Round(y0 + t*(y1-y0)))
		for dy := -half; dy <= half; dy++ {
			for dx := -half; dx <= half; dx++ {
				s.blend(px+dx, py+dy, col)
			}
		}
	}
}

func (s *ImageSurface) hspan(x0, x1, y int, col color.RGBA) {
	width, height := s.Size()
	if y < 0 || y >= height || x1 < 0 || x0 >= width {
		return
	}
	x0 = clampInt(x0, 0, width-1)
	x1 = clampInt(x1, 0, width-1)
	for x := x0; x <= x1; x++ {
		s.blendInBounds(x, y, col)
	}
}

func (s *ImageSurface) blend(x, y int, col color.RGBA) {
	width, height := s.Size()
	if x < 0 || x >= width || y < 0 || y >= height {
		return
	}
	s.blendInBounds(x, y, col)
}

// blendInBounds source-over composites an alpha-premultiplied color onto
// the overlay pixel.
func (s *ImageSurface) blendInBounds(x, y int, col color.RGBA) {
	i := s.overlay.PixOffset(x, y)
	p := s.overlay.Pix[i : i+4 : i+4]
	inv := uint32(255 - col.A)
	p[0] = uint8(uint32(col.R) + uint32(p[0])*inv/255)
	p[1] = uint8(uint32(col.G) + uint32(p[1])*inv/255)
	p[2] = uint8(uint32(col.B) + uint32(p[2])*inv/255)
	p[3] = uint8(uint32(col.A) + uint32(p[3])*inv/255)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
