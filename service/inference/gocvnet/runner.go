package gocvnet

import (
	"image"
	"log/slog"
	"os"

	"github.com/khaledhikmat/vs-office/service/inference"
	"github.com/khaledhikmat/vs-office/service/lgr"
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"
)

type runner struct {
	net  gocv.Net
	size int
}

// NewLoader reads ONNX weights through the OpenCV DNN module. The net is
// not thread-safe; the adapter serializes access to it.
func NewLoader(inputSize int) inference.Loader {
	return func(path string) (inference.Runner, error) {
		if _, err := os.Stat(path); err != nil {
			return nil, xerrors.Errorf("no model at %s: %w", path, err)
		}

		net := gocv.ReadNet(path, "")
		if net.Empty() {
			return nil, xerrors.Errorf("error reading model %s", path)
		}

		if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
			net.Close()
			return nil, xerrors.Errorf("error setting backend: %w", err)
		}

		if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
			net.Close()
			return nil, xerrors.Errorf("error setting target: %w", err)
		}

		lgr.Logger.Info("gocv net ready",
			slog.String("model", path),
			slog.String("openCV", gocv.Version()),
		)

		return &runner{net: net, size: inputSize}, nil
	}
}

func (r *runner) Run(img *image.RGBA) (inference.Tensor, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return inference.Tensor{}, xerrors.Errorf("error converting frame: %w", err)
	}
	defer mat.Close()

	// ImageToMatRGB stores BGR, so swap back to RGB for the network
	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(r.size, r.size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	r.net.SetInput(blob, "")

	output := r.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 {
		return inference.Tensor{}, xerrors.Errorf("unexpected DNN output dims: %v", dims)
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return inference.Tensor{}, xerrors.Errorf("error reading DNN output: %w", err)
	}

	// the Mat owns data, copy it before the deferred Close
	out := make([]float32, len(data))
	copy(out, data)

	return inference.Tensor{
		Data:   out,
		Shape:  dims,
		InputW: r.size,
		InputH: r.size,
	}, nil
}

func (r *runner) Close() error {
	return r.net.Close()
}
