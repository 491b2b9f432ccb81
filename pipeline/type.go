package pipeline

import (
	"context"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/service/config"
	"github.com/khaledhikmat/vs-office/service/data"
	"github.com/khaledhikmat/vs-office/service/inference"
	"github.com/khaledhikmat/vs-office/service/storage"
	"golang.org/x/xerrors"
)

// Source produces frames from a camera or a file.
//
// Open fails with ErrSourceUnavailable. ReadNext returns a frame,
// ErrNoFrame when nothing arrived within the read timeout, ErrEndOfStream
// when a file is exhausted, or ErrSourceRead for a transient device error.
// Close is idempotent and safe after a failed Open; once closed a source
// produces no more frames.
type Source interface {
	Open(canx context.Context) error
	ReadNext(canx context.Context) (model.Frame, error)
	Close() error
	Kind() model.SourceKind
	Name() string
}

// Opener builds the source for a selector. The camera/video implementation
// lives in the capture package; still images are handled here.
type Opener func(sel model.SourceSelector, cfg Config) (Source, error)

type ServicesFactory struct {
	CfgSvc       config.IService
	DataSvc      data.IService
	StorageSvc   storage.IService
	InferenceSvc inference.IService
}

type AutoSavePolicy string

const (
	AutoSaveOff            AutoSavePolicy = "off"
	AutoSaveDetections     AutoSavePolicy = "detections"
	AutoSaveHighConfidence AutoSavePolicy = "high-confidence"
)

// HighConfidence is the lower bound of the "Excellent" band.
const HighConfidence = 0.8

// Config is fixed for the lifetime of a session; changing it means a stop
// and a fresh start.
type Config struct {
	Source               model.SourceSelector
	ConfidenceThreshold  float32
	BufferDepth          int
	ReadTimeout          time.Duration
	PollInterval         time.Duration
	StopGrace            time.Duration
	Retry                RetryPolicy
	MaxInferenceFailures int
	AutoSave             AutoSavePolicy
	AutoSaveCooldown     time.Duration
	Mirror               bool
	// LogInterval rate-limits the "detected" log events.
	LogInterval time.Duration
}

// NewConfig derives a session config from the config service.
func NewConfig(cfgSvc config.IService, sel model.SourceSelector) Config {
	return Config{
		Source:              sel,
		ConfidenceThreshold: cfgSvc.GetConfidenceThreshold(),
		BufferDepth:         cfgSvc.GetBufferDepth(),
		ReadTimeout:         cfgSvc.GetReadTimeout(),
		PollInterval:        cfgSvc.GetPollInterval(),
		StopGrace:           cfgSvc.GetStopGrace(),
		Retry: RetryPolicy{
			MaxRetries:    cfgSvc.GetRetryMaxAttempts(),
			RetryDelay:    cfgSvc.GetRetryInitialDelay(),
			MaxRetryDelay: cfgSvc.GetRetryMaxDelay(),
		},
		MaxInferenceFailures: cfgSvc.GetMaxInferenceFailures(),
		AutoSave:             AutoSavePolicy(cfgSvc.GetAutoSavePolicy()),
		AutoSaveCooldown:     cfgSvc.GetAutoSaveCooldown(),
		Mirror:               cfgSvc.GetMirrorCamera(),
		LogInterval:          2 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return xerrors.Errorf("confidence threshold %v outside [0,1]: %w", c.ConfidenceThreshold, model.ErrInvalidConfig)
	}
	if c.BufferDepth < 1 {
		return xerrors.Errorf("buffer depth %d: %w", c.BufferDepth, model.ErrInvalidConfig)
	}
	if c.ReadTimeout <= 0 || c.PollInterval <= 0 || c.StopGrace <= 0 {
		return xerrors.Errorf("timeouts must be positive: %w", model.ErrInvalidConfig)
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if c.MaxInferenceFailures < 1 {
		return xerrors.Errorf("max inference failures %d: %w", c.MaxInferenceFailures, model.ErrInvalidConfig)
	}
	if c.Source.Kind != model.SourceCamera && c.Source.Kind != model.SourceFile {
		return xerrors.Errorf("source kind %q: %w", c.Source.Kind, model.ErrInvalidConfig)
	}
	switch c.AutoSave {
	case AutoSaveOff, AutoSaveDetections, AutoSaveHighConfidence:
	default:
		return xerrors.Errorf("auto-save policy %q: %w", c.AutoSave, model.ErrInvalidConfig)
	}
	return nil
}
