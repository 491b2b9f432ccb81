package config

import "time"

const (
	BackendGocv = "gocv"
	BackendOnnx = "onnx"
	BackendMock = "mock"

	StoreFiles  = "files"
	StoreSqlite = "sqlite"
)

type IService interface {
	GetModeMaxShutdownTime() int
	GetSource() string

	GetModelPath() string
	GetLabelsPath() string
	GetModelBackend() string
	GetModelInputSize() int
	GetOnnxRuntimeLibrary() string
	GetConfidenceThreshold() float32

	GetInputFolder() string
	GetOutputFolder() string
	GetSnapshotsFolder() string
	GetLogsFolder() string
	GetDataStore() string

	GetBufferDepth() int
	GetReadTimeout() time.Duration
	GetPollInterval() time.Duration
	GetStopGrace() time.Duration
	GetRetryMaxAttempts() int
	GetRetryInitialDelay() time.Duration
	GetRetryMaxDelay() time.Duration
	GetMaxInferenceFailures() int

	GetAutoSavePolicy() string
	GetAutoSaveCooldown() time.Duration
	GetMirrorCamera() bool
	GetLogLevel() string

	GetMonitorPeriod() time.Duration
}
