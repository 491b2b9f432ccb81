package inference

import (
	"image"
)

// MockBox is a canned candidate, with the box normalized to [0,1].
type MockBox struct {
	ClassID    int
	Confidence float32
	CX, CY     float32
	W, H       float32
}

// DefaultMockBoxes reports a mug in the middle of the frame.
var DefaultMockBoxes = []MockBox{
	{ClassID: 5, Confidence: 0.85, CX: 0.5, CY: 0.5, W: 0.3, H: 0.4},
}

type mockRunner struct {
	numClasses int
	size       int
	boxes      []MockBox
}

// NewMockLoader returns a loader whose runner ignores the image and emits
// the same YOLOv8-layout tensor for every frame. It needs no weights file,
// which makes it the fallback backend when no model is deployed.
func NewMockLoader(numClasses, inputSize int, boxes ...MockBox) Loader {
	return func(_ string) (Runner, error) {
		return &mockRunner{
			numClasses: numClasses,
			size:       inputSize,
			boxes:      boxes,
		}, nil
	}
}

func (r *mockRunner) Run(_ *image.RGBA) (Tensor, error) {
	n := len(r.boxes)
	if n == 0 {
		n = 1
	}
	attrs := 4 + r.numClasses
	data := make([]float32, attrs*n)
	s := float32(r.size)

	for i, b := range r.boxes {
		data[0*n+i] = b.CX * s
		data[1*n+i] = b.CY * s
		data[2*n+i] = b.W * s
		data[3*n+i] = b.H * s
		if b.ClassID >= 0 && b.ClassID < r.numClasses {
			data[(4+b.ClassID)*n+i] = b.Confidence
		}
	}

	return Tensor{
		Data:   data,
		Shape:  []int{1, attrs, n},
		InputW: r.size,
		InputH: r.size,
	}, nil
}

func (r *mockRunner) Close() error {
	return nil
}
