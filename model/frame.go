package model

import (
	"image"
	"sort"
	"strconv"
	"time"
)

type SourceKind string

const (
	SourceCamera SourceKind = "camera"
	SourceFile   SourceKind = "file"
)

// Frame is one raw sample from a source. Frames are never mutated after
// they leave the source; the stage holding one owns it.
type Frame struct {
	Seq       uint64      `json:"seq"`
	Image     *image.RGBA `json:"-"`
	Timestamp time.Time   `json:"timestamp"`
	Kind      SourceKind  `json:"kind"`
	Origin    string      `json:"origin"`
}

func (f Frame) Bounds() image.Rectangle {
	if f.Image == nil {
		return image.Rectangle{}
	}
	return f.Image.Bounds()
}

func (f Frame) Empty() bool {
	return f.Image == nil || f.Image.Bounds().Empty()
}

type Detection struct {
	Label      string  `json:"label"`
	ClassID    int     `json:"classId"`
	Confidence float32 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

func (d Detection) Rect() image.Rectangle {
	return image.Rect(d.X, d.Y, d.X+d.Width, d.Y+d.Height)
}

// Band maps the confidence onto the quality bands shown to users.
func (d Detection) Band() string {
	switch {
	case d.Confidence >= 0.8:
		return "Excellent"
	case d.Confidence >= 0.5:
		return "Good"
	default:
		return "Poor"
	}
}

func (d Detection) String() string {
	return d.Label + " " + strconv.FormatFloat(float64(d.Confidence), 'f', 2, 32)
}

// DetectionSet is kept sorted by descending confidence.
type DetectionSet []Detection

func NewDetectionSet(dets []Detection) DetectionSet {
	set := make(DetectionSet, len(dets))
	copy(set, dets)
	sort.SliceStable(set, func(i, j int) bool {
		return set[i].Confidence > set[j].Confidence
	})
	return set
}

func (s DetectionSet) Filter(threshold float32) DetectionSet {
	out := DetectionSet{}
	for _, d := range s {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}

func (s DetectionSet) Best() (Detection, bool) {
	if len(s) == 0 {
		return Detection{}, false
	}
	best := s[0]
	for _, d := range s[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best, true
}

// Within reports whether every box lies inside bounds.
func (s DetectionSet) Within(bounds image.Rectangle) bool {
	for _, d := range s {
		if !d.Rect().In(bounds) {
			return false
		}
	}
	return true
}

// Result is a frame with its detections, before rendering.
type Result struct {
	Frame      Frame        `json:"frame"`
	Detections DetectionSet `json:"detections"`
}

// AnnotatedFrame is read-only once built and may be shared between the
// display and persistence.
type AnnotatedFrame struct {
	Frame      Frame        `json:"frame"`
	Detections DetectionSet `json:"detections"`
	Rendered   *image.RGBA  `json:"-"`
}

type DetectionRecord struct {
	SessionID  string  `json:"sessionId"`
	Source     string  `json:"source"`
	Seq        uint64  `json:"seq"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Path       string  `json:"path,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}
