// Package viewport converts pointer coordinates between the displayed
// (CSS-scaled) element and the image's native pixel space.
package viewport

import "fmt"

// Mapper translates between display space and image-pixel space. It is a
// cheap value meant to be rebuilt from the element's current bounding
// rectangle on every interaction; caching one across a resize produces
// wrong scale factors.
type Mapper struct {
	scaleX float64
	scaleY float64
}

// NewMapper builds a mapper from the on-screen size of the canvas and
// its native pixel dimensions (which match the source image).
func NewMapper(displayWidth, displayHeight, nativeWidth, nativeHeight float64) (Mapper, error) {
	if displayWidth <= 0 || displayHeight <= 0 {
		return Mapper{}, fmt.Errorf("display size %vx%v not positive", displayWidth, displayHeight)
	}
	if nativeWidth <= 0 || nativeHeight <= 0 {
		return Mapper{}, fmt.Errorf("native size %vx%v not positive", nativeWidth, nativeHeight)
	}
	return Mapper{
		scaleX: nativeWidth / displayWidth,
		scaleY: nativeHeight / displayHeight,
	}, nil
}

// ToImage maps a display-space coordinate into image-pixel space.
func (m Mapper) ToImage(displayX, displayY float64) (float64, float64) {
	return displayX * m.scaleX, displayY * m.scaleY
}

// ToDisplay maps an image-pixel coordinate back into display space.
// Round-tripping through ToImage reproduces the original coordinate
// within floating-point tolerance.
func (m Mapper) ToDisplay(imageX, imageY float64) (float64, float64) {
	return imageX / m.scaleX, imageY / m.scaleY
}
