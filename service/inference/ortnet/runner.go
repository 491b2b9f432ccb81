package ortnet

import (
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/khaledhikmat/vs-office/service/inference"
	"github.com/khaledhikmat/vs-office/service/lgr"
	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/xerrors"
)

var envOnce sync.Once
var envErr error

type runner struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	size         int
}

// Anchors is the number of candidate boxes a YOLOv8 export produces for a
// square input of the given size (strides 8, 16 and 32).
func Anchors(size int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		side := size / stride
		n += side * side
	}
	return n
}

// NewLoader runs YOLOv8-style exports (input "images", output "output0")
// through onnxruntime. libPath points at the onnxruntime shared library.
func NewLoader(libPath string, inputSize, numClasses int) inference.Loader {
	return func(path string) (inference.Runner, error) {
		if _, err := os.Stat(path); err != nil {
			return nil, xerrors.Errorf("no model at %s: %w", path, err)
		}

		envOnce.Do(func() {
			if libPath != "" {
				ort.SetSharedLibraryPath(libPath)
			}
			envErr = ort.InitializeEnvironment()
		})
		if envErr != nil {
			return nil, xerrors.Errorf("failed to initialize ONNX environment: %w", envErr)
		}

		inputShape := ort.NewShape(1, 3, int64(inputSize), int64(inputSize))
		outputShape := ort.NewShape(1, int64(4+numClasses), int64(Anchors(inputSize)))

		inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
		if err != nil {
			return nil, xerrors.Errorf("failed to create input tensor: %w", err)
		}

		outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
		if err != nil {
			inputTensor.Destroy()
			return nil, xerrors.Errorf("failed to create output tensor: %w", err)
		}

		session, err := ort.NewAdvancedSession(path,
			[]string{"images"}, []string{"output0"},
			[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
			nil)
		if err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, xerrors.Errorf("failed to create ONNX session: %w", err)
		}

		lgr.Logger.Info("onnxruntime session ready",
			slog.String("model", path),
			slog.Int("classes", numClasses),
		)

		return &runner{
			session:      session,
			inputTensor:  inputTensor,
			outputTensor: outputTensor,
			size:         inputSize,
		}, nil
	}
}

func (r *runner) Run(img *image.RGBA) (inference.Tensor, error) {
	copy(r.inputTensor.GetData(), inference.Preprocess(img, r.size, r.size))

	if err := r.session.Run(); err != nil {
		return inference.Tensor{}, xerrors.Errorf("inference failed: %w", err)
	}

	data := r.outputTensor.GetData()
	out := make([]float32, len(data))
	copy(out, data)

	shape := r.outputTensor.GetShape()
	dims := make([]int, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}

	return inference.Tensor{
		Data:   out,
		Shape:  dims,
		InputW: r.size,
		InputH: r.size,
	}, nil
}

func (r *runner) Close() error {
	if r.inputTensor != nil {
		r.inputTensor.Destroy()
	}
	if r.outputTensor != nil {
		r.outputTensor.Destroy()
	}
	if r.session != nil {
		r.session.Destroy()
	}
	return nil
}
