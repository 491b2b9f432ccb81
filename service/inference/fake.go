package inference

import (
	"sync"

	"github.com/khaledhikmat/vs-office/model"
	"golang.org/x/xerrors"
)

// FakeStep is one scripted Infer outcome.
type FakeStep struct {
	Detections []model.Detection
	Err        error
}

type Fake struct {
	mu      sync.Mutex
	steps   []FakeStep
	calls   int
	loads   int
	loadErr error
	loaded  bool
}

// NewFake replays steps in order, repeating the last one once the script
// is exhausted. With no steps every call returns an empty set.
func NewFake(steps ...FakeStep) *Fake {
	return &Fake{steps: steps}
}

// FailLoad makes every Load return err wrapped as a model load error.
func (svc *Fake) FailLoad(err error) *Fake {
	svc.loadErr = err
	return svc
}

func (svc *Fake) Load() error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.loads++
	if svc.loadErr != nil {
		return xerrors.Errorf("%v: %w", svc.loadErr, model.ErrModelLoad)
	}
	svc.loaded = true
	return nil
}

func (svc *Fake) Reload() error {
	svc.mu.Lock()
	svc.loaded = false
	svc.mu.Unlock()
	return svc.Load()
}

func (svc *Fake) Loaded() bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.loaded
}

func (svc *Fake) Labels() []string {
	return DefaultLabels
}

func (svc *Fake) Infer(frame model.Frame, threshold float32) (model.DetectionSet, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.calls++
	if len(svc.steps) == 0 {
		return model.DetectionSet{}, nil
	}

	idx := svc.calls - 1
	if idx >= len(svc.steps) {
		idx = len(svc.steps) - 1
	}
	step := svc.steps[idx]
	if step.Err != nil {
		return nil, xerrors.Errorf("frame %d: %v: %w", frame.Seq, step.Err, model.ErrInference)
	}

	return model.NewDetectionSet(step.Detections).Filter(threshold), nil
}

func (svc *Fake) Close() error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.loaded = false
	return nil
}

// Calls returns how many times Infer ran.
func (svc *Fake) Calls() int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.calls
}

func (svc *Fake) Loads() int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.loads
}

var _ IService = (*Fake)(nil)
