package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/vantage-cv/vision-console/annotation-engine/internal/colormap"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/geometry"
	"github.com/vantage-cv/vision-console/annotation-engine/pkg/types"
)

// Options are the user-tunable overlay settings. Any change triggers a
// full redraw; there is no partial invalidation because shape counts are
// bounded by interaction rate, not data volume.
type Options struct {
	Opacity      float64 `json:"opacity"`
	ShowOutlines bool    `json:"show_outlines"`
	ShowLabels   bool    `json:"show_labels"`
}

// DefaultOptions returns the standard overlay settings.
func DefaultOptions() Options {
	return Options{
		Opacity:      0.5,
		ShowOutlines: true,
		ShowLabels:   true,
	}
}

const (
	pointRadius  = 5
	outlineWidth = 2
	labelPadX    = 3
	labelHeight  = TextHeight + 3
)

var (
	foregroundPoint = color.RGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0xff}
	backgroundPoint = color.RGBA{R: 0xef, G: 0x44, B: 0x44, A: 0xff}
	boxStroke       = color.RGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xff}
	draftStroke     = color.RGBA{R: 0xfb, G: 0xbf, B: 0x24, A: 0xff}
	labelText       = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// Pipeline paints a base image and a set of annotated shapes onto a
// surface. It holds no reference to any surface between calls; the
// target belongs to the hosting screen.
type Pipeline struct {
	colors *colormap.Table
}

// NewPipeline returns a pipeline drawing mask fills from the given class
// color table.
func NewPipeline(colors *colormap.Table) *Pipeline {
	if colors == nil {
		colors = colormap.NewTable()
	}
	return &Pipeline{colors: colors}
}

// Render repaints the surface from scratch: overlay cleared, base image
// drawn 1:1 to native resolution, then masks, points, boxes and finally
// the in-progress draft box, in input order. Drawing is purely a side
// effect; malformed shapes are skipped, never faulted.
func (p *Pipeline) Render(dst Surface, base image.Image, masks []types.Mask, prompts []types.Prompt, draft *types.Prompt, opts Options) {
	if opts.Opacity <= 0 {
		opts.Opacity = DefaultOptions().Opacity
	}
	if opts.Opacity > 1 {
		opts.Opacity = 1
	}

	dst.Clear()
	if base != nil {
		dst.DrawImage(base)
	}

	for _, m := range masks {
		p.drawMask(dst, m, opts)
	}

	pointIndex, boxIndex := 0, 0
	for _, prompt := range prompts {
		switch prompt.Kind {
		case types.PromptPoint:
			pointIndex++
			drawPoint(dst, prompt, pointIndex)
		case types.PromptBox:
			boxIndex++
			drawBox(dst, prompt, boxIndex)
		case types.PromptText:
			// Text prompts have no spatial footprint.
		}
	}

	if draft != nil && draft.Kind == types.PromptBox {
		x1, y1, x2, y2 := geometry.NormalizeBox(draft.X1, draft.Y1, draft.X2, draft.Y2)
		dst.StrokeRect(x1, y1, x2-x1, y2-y1, draftStroke, StrokeStyle{Width: outlineWidth, Dashed: true})
	}
}

func (p *Pipeline) drawMask(dst Surface, m types.Mask, opts Options) {
	if !m.Renderable() {
		return
	}

	col := p.colors.ColorFor(*m.ClassID)
	if m.FillColor != "" {
		col = colormap.ParseOrFallback(m.FillColor)
	}
	dst.FillPolygon(m.Polygon, withOpacity(col, opts.Opacity))

	if opts.ShowOutlines {
		dst.StrokePolygon(m.Polygon, col, StrokeStyle{Width: outlineWidth})
	}

	if opts.ShowLabels {
		box, ok := geometry.BoundingBoxOf(m.Polygon)
		if !ok {
			return
		}
		label := fmt.Sprintf("%s %d%%", m.ClassName, int(math.Round(m.Confidence*100)))
		width := TextWidth(label) + 2*labelPadX
		dst.FillRect(box.X, box.Y, width, labelHeight, col)
		dst.DrawText(box.X+labelPadX, box.Y+TextHeight-1, label, labelText)
	}
}

func drawPoint(dst Surface, prompt types.Prompt, index int) {
	col := backgroundPoint
	if prompt.Foreground {
		col = foregroundPoint
	}
	dst.FillCircle(prompt.X, prompt.Y, pointRadius, col)
	dst.DrawText(prompt.X+pointRadius+2, prompt.Y-pointRadius-2, fmt.Sprintf("P%d", index), labelText)
}

func drawBox(dst Surface, prompt types.Prompt, index int) {
	width := prompt.X2 - prompt.X1
	height := prompt.Y2 - prompt.Y1
	dst.StrokeRect(prompt.X1, prompt.Y1, width, height, boxStroke, StrokeStyle{Width: outlineWidth})

	tag := fmt.Sprintf("B%d", index)
	tagWidth := TextWidth(tag) + 2*labelPadX
	dst.FillRect(prompt.X1, prompt.Y1, tagWidth, labelHeight, boxStroke)
	dst.DrawText(prompt.X1+labelPadX, prompt.Y1+TextHeight-1, tag, labelText)
}

// withOpacity premultiplies an opaque color down to the given opacity so
// the overlay compositor applies it source-over.
func withOpacity(c color.RGBA, opacity float64) color.RGBA {
	return color.RGBA{
		R: uint8(math.Round(float64(c.R) * opacity)),
		G: uint8(math.Round(float64(c.G) * opacity)),
		B: uint8(math.Round(float64(c.B) * opacity)),
		A: uint8(math.Round(255 * opacity)),
	}
}
