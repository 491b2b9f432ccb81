package inference

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/service/lgr"
	"golang.org/x/xerrors"
)

type Options struct {
	IoUThreshold  float64
	MaxDetections int
	// WarmupSize is the square image fed once after load; 0 disables warm-up.
	WarmupSize int
}

func DefaultOptions() Options {
	return Options{
		IoUThreshold:  DefaultIoUThreshold,
		MaxDetections: DefaultMaxDetections,
		WarmupSize:    640,
	}
}

type adapterService struct {
	mu     sync.Mutex
	path   string
	labels []string
	loader Loader
	opts   Options
	runner Runner
}

// New returns the model adapter for the weights at path. Nothing is loaded
// until Load is called.
func New(path string, labels []string, loader Loader, opts Options) IService {
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	return &adapterService{
		path:   path,
		labels: labels,
		loader: loader,
		opts:   opts,
	}
}

func (svc *adapterService) Load() error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.runner != nil {
		return nil
	}
	return svc.load()
}

func (svc *adapterService) Reload() error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.runner != nil {
		if err := svc.runner.Close(); err != nil {
			lgr.Logger.Warn("error closing model runner", slog.Any("error", err))
		}
		svc.runner = nil
	}
	return svc.load()
}

// load must be called with mu held.
func (svc *adapterService) load() (err error) {
	start := time.Now()

	runner, err := svc.loader(svc.path)
	if err != nil {
		return xerrors.Errorf("%s: %v: %w", svc.path, err, model.ErrModelLoad)
	}

	if svc.opts.WarmupSize > 0 {
		if err := svc.warmup(runner); err != nil {
			_ = runner.Close()
			return xerrors.Errorf("%s: incompatible model: %v: %w", svc.path, err, model.ErrModelLoad)
		}
	}

	svc.runner = runner
	lgr.Logger.Info("model loaded",
		slog.String("path", svc.path),
		slog.Int("classes", len(svc.labels)),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// warmup runs one blank image through the runner and checks that its
// output decodes against the configured labels.
func (svc *adapterService) warmup(r Runner) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during warm-up: %v", p)
		}
	}()

	blank := image.NewRGBA(image.Rect(0, 0, svc.opts.WarmupSize, svc.opts.WarmupSize))
	t, err := r.Run(blank)
	if err != nil {
		return err
	}
	_, err = Decode(t, svc.labels, blank.Bounds(), 1)
	return err
}

func (svc *adapterService) Loaded() bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.runner != nil
}

func (svc *adapterService) Labels() []string {
	return append([]string{}, svc.labels...)
}

func (svc *adapterService) Infer(frame model.Frame, threshold float32) (set model.DetectionSet, err error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.runner == nil {
		return nil, xerrors.Errorf("model not loaded: %w", model.ErrInference)
	}
	if frame.Empty() {
		return nil, xerrors.Errorf("frame %d has no pixels: %w", frame.Seq, model.ErrInference)
	}

	defer func() {
		if p := recover(); p != nil {
			set = nil
			err = xerrors.Errorf("runner panic on frame %d: %v: %w", frame.Seq, p, model.ErrInference)
		}
	}()

	t, err := svc.runner.Run(frame.Image)
	if err != nil {
		return nil, xerrors.Errorf("frame %d: %v: %w", frame.Seq, err, model.ErrInference)
	}

	dets, err := Decode(t, svc.labels, frame.Bounds(), threshold)
	if err != nil {
		return nil, xerrors.Errorf("frame %d: %v: %w", frame.Seq, err, model.ErrInference)
	}

	return model.NewDetectionSet(NMS(dets, svc.opts.IoUThreshold, svc.opts.MaxDetections)), nil
}

func (svc *adapterService) Close() error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.runner == nil {
		return nil
	}
	err := svc.runner.Close()
	svc.runner = nil
	return err
}
