package types

import "time"

// PromptKind identifies the variant of a user-authored prompt.
type PromptKind string

const (
	PromptPoint PromptKind = "point"
	PromptBox   PromptKind = "box"
	PromptText  PromptKind = "text"
)

// Prompt is one user-authored input to a promptable segmentation model.
// Point prompts use X/Y/Foreground, box prompts use X1..Y2 (normalized so
// X1<=X2 and Y1<=Y2 once committed), text prompts use Value. All
// coordinates are in image-pixel space.
type Prompt struct {
	Kind       PromptKind `json:"kind"`
	X          float64    `json:"x,omitempty"`
	Y          float64    `json:"y,omitempty"`
	Foreground bool       `json:"foreground,omitempty"`
	X1         float64    `json:"x1,omitempty"`
	Y1         float64    `json:"y1,omitempty"`
	X2         float64    `json:"x2,omitempty"`
	Y2         float64    `json:"y2,omitempty"`
	Value      string     `json:"value,omitempty"`
}

// BoundingBox mirrors the JSON shape used by the inference API.
type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// Mask is one predicted instance produced by the model. The polygon is
// an open ring of (x, y) vertices in image-pixel space; it is implicitly
// closed when rendered. A mask without a polygon or class id is not
// renderable and is skipped.
type Mask struct {
	InstanceID int          `json:"instanceId"`
	ClassID    *int         `json:"classId"`
	ClassName  string       `json:"className"`
	Confidence float64      `json:"confidenceScore"`
	BBox       BoundingBox  `json:"boundingBox"`
	Polygon    [][2]float64 `json:"polygon"`
	// FillColor optionally overrides the class color, as "#rrggbb" or
	// "hsl(h, s%, l%)". Unparseable values fall back to the default.
	FillColor string `json:"fillColor,omitempty"`
}

// Renderable reports whether the mask carries enough data to be painted.
func (m Mask) Renderable() bool {
	return m.ClassID != nil && len(m.Polygon) > 0
}

// LiveSnapshot is one frame+masks payload received from the live
// inference source. Frame is an opaque image payload: a data URL, raw
// base64, or an absolute http(s) URL. Frame and Masks always travel
// together; a snapshot is replaced wholesale, never field by field.
type LiveSnapshot struct {
	JobID      string    `json:"jobId"`
	Frame      string    `json:"frame"`
	Masks      []Mask    `json:"masks"`
	ReceivedAt time.Time `json:"receivedAt"`
}
