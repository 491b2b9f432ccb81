package inference

import (
	"image"

	"github.com/khaledhikmat/vs-office/model"
)

// IService is the model adapter. Implementations must be safe for
// concurrent use; Infer calls are serialized internally.
type IService interface {
	Load() error
	Reload() error
	Loaded() bool
	Labels() []string
	Infer(frame model.Frame, threshold float32) (model.DetectionSet, error)
	Close() error
}

// Tensor is the raw model output plus the input size the boxes refer to.
type Tensor struct {
	Data   []float32
	Shape  []int
	InputW int
	InputH int
}

// Runner executes the network on one image. Runners are not reentrant.
type Runner interface {
	Run(img *image.RGBA) (Tensor, error)
	Close() error
}

type Loader func(path string) (Runner, error)
