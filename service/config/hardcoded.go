package config

import (
	"time"
)

type hardcodedService struct {
}

func NewHardCoded() IService {
	return &hardcodedService{}
}

func (svc *hardcodedService) GetModeMaxShutdownTime() int {
	return 5
}

func (svc *hardcodedService) GetSource() string {
	return "0"
}

func (svc *hardcodedService) GetModelPath() string {
	// For now, we are using a hardcoded value.
	// The yaml service lets the model be swapped without a rebuild.
	return "./models/best.onnx"
}

func (svc *hardcodedService) GetLabelsPath() string {
	// Empty means the built-in office class map
	return ""
}

func (svc *hardcodedService) GetModelBackend() string {
	return BackendGocv
}

func (svc *hardcodedService) GetModelInputSize() int {
	return 640
}

func (svc *hardcodedService) GetOnnxRuntimeLibrary() string {
	return "onnxruntime.so"
}

func (svc *hardcodedService) GetConfidenceThreshold() float32 {
	return 0.25
}

func (svc *hardcodedService) GetInputFolder() string {
	return "./input"
}

func (svc *hardcodedService) GetOutputFolder() string {
	return "./output"
}

func (svc *hardcodedService) GetSnapshotsFolder() string {
	return "./snapshots"
}

func (svc *hardcodedService) GetLogsFolder() string {
	return "./logs"
}

func (svc *hardcodedService) GetDataStore() string {
	return StoreFiles
}

func (svc *hardcodedService) GetBufferDepth() int {
	// Live display favours freshness, keep it small
	return 2
}

func (svc *hardcodedService) GetReadTimeout() time.Duration {
	return 500 * time.Millisecond
}

func (svc *hardcodedService) GetPollInterval() time.Duration {
	return 100 * time.Millisecond
}

func (svc *hardcodedService) GetStopGrace() time.Duration {
	return 2 * time.Second
}

func (svc *hardcodedService) GetRetryMaxAttempts() int {
	return 10
}

func (svc *hardcodedService) GetRetryInitialDelay() time.Duration {
	return 50 * time.Millisecond
}

func (svc *hardcodedService) GetRetryMaxDelay() time.Duration {
	return 1 * time.Second
}

func (svc *hardcodedService) GetMaxInferenceFailures() int {
	return 3
}

func (svc *hardcodedService) GetAutoSavePolicy() string {
	return "detections"
}

func (svc *hardcodedService) GetAutoSaveCooldown() time.Duration {
	return 5 * time.Second
}

func (svc *hardcodedService) GetMirrorCamera() bool {
	return true
}

func (svc *hardcodedService) GetLogLevel() string {
	return "info"
}

func (svc *hardcodedService) GetMonitorPeriod() time.Duration {
	return 10 * time.Second
}
