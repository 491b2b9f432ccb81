package config

import (
	"os"
	"strconv"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Settings mirrors config.yaml. Zero values fall back to the hardcoded defaults.
type Settings struct {
	Source          string `yaml:"source"`
	ShutdownSeconds int    `yaml:"shutdownSeconds"`

	Model struct {
		Path                string  `yaml:"path"`
		Labels              string  `yaml:"labels"`
		Backend             string  `yaml:"backend"`
		InputSize           int     `yaml:"inputSize"`
		OnnxRuntimeLibrary  string  `yaml:"onnxRuntimeLibrary"`
		ConfidenceThreshold float32 `yaml:"confidenceThreshold"`
	} `yaml:"model"`

	Folders struct {
		Input     string `yaml:"input"`
		Output    string `yaml:"output"`
		Snapshots string `yaml:"snapshots"`
		Logs      string `yaml:"logs"`
	} `yaml:"folders"`

	DataStore string `yaml:"dataStore"`

	Pipeline struct {
		BufferDepth          int           `yaml:"bufferDepth"`
		ReadTimeout          time.Duration `yaml:"readTimeout"`
		PollInterval         time.Duration `yaml:"pollInterval"`
		StopGrace            time.Duration `yaml:"stopGrace"`
		MaxInferenceFailures int           `yaml:"maxInferenceFailures"`
		Mirror               *bool         `yaml:"mirror"`
	} `yaml:"pipeline"`

	Retry struct {
		MaxAttempts  int           `yaml:"maxAttempts"`
		InitialDelay time.Duration `yaml:"initialDelay"`
		MaxDelay     time.Duration `yaml:"maxDelay"`
	} `yaml:"retry"`

	AutoSave struct {
		Policy   string        `yaml:"policy"`
		Cooldown time.Duration `yaml:"cooldown"`
	} `yaml:"autoSave"`

	Monitor struct {
		Period time.Duration `yaml:"period"`
	} `yaml:"monitor"`

	LogLevel string `yaml:"logLevel"`
}

type yamlService struct {
	s Settings
}

// NewYAML reads path (a missing file means defaults), applies environment
// overrides and validates the result.
func NewYAML(path string) (IService, error) {
	var s Settings

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, xerrors.Errorf("failed to read configuration file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &s); err != nil {
				return nil, xerrors.Errorf("failed to parse configuration: %w", err)
			}
		}
	}

	s.setDefaults(NewHardCoded())
	s.applyEnv()

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &yamlService{s: s}, nil
}

func (s *Settings) setDefaults(d IService) {
	if s.Source == "" {
		s.Source = d.GetSource()
	}
	if s.ShutdownSeconds == 0 {
		s.ShutdownSeconds = d.GetModeMaxShutdownTime()
	}
	if s.Model.Path == "" {
		s.Model.Path = d.GetModelPath()
	}
	if s.Model.Labels == "" {
		s.Model.Labels = d.GetLabelsPath()
	}
	if s.Model.Backend == "" {
		s.Model.Backend = d.GetModelBackend()
	}
	if s.Model.InputSize == 0 {
		s.Model.InputSize = d.GetModelInputSize()
	}
	if s.Model.OnnxRuntimeLibrary == "" {
		s.Model.OnnxRuntimeLibrary = d.GetOnnxRuntimeLibrary()
	}
	if s.Model.ConfidenceThreshold == 0 {
		s.Model.ConfidenceThreshold = d.GetConfidenceThreshold()
	}
	if s.Folders.Input == "" {
		s.Folders.Input = d.GetInputFolder()
	}
	if s.Folders.Output == "" {
		s.Folders.Output = d.GetOutputFolder()
	}
	if s.Folders.Snapshots == "" {
		s.Folders.Snapshots = d.GetSnapshotsFolder()
	}
	if s.Folders.Logs == "" {
		s.Folders.Logs = d.GetLogsFolder()
	}
	if s.DataStore == "" {
		s.DataStore = d.GetDataStore()
	}
	if s.Pipeline.BufferDepth == 0 {
		s.Pipeline.BufferDepth = d.GetBufferDepth()
	}
	if s.Pipeline.ReadTimeout == 0 {
		s.Pipeline.ReadTimeout = d.GetReadTimeout()
	}
	if s.Pipeline.PollInterval == 0 {
		s.Pipeline.PollInterval = d.GetPollInterval()
	}
	if s.Pipeline.StopGrace == 0 {
		s.Pipeline.StopGrace = d.GetStopGrace()
	}
	if s.Pipeline.MaxInferenceFailures == 0 {
		s.Pipeline.MaxInferenceFailures = d.GetMaxInferenceFailures()
	}
	if s.Pipeline.Mirror == nil {
		mirror := d.GetMirrorCamera()
		s.Pipeline.Mirror = &mirror
	}
	if s.Retry.MaxAttempts == 0 {
		s.Retry.MaxAttempts = d.GetRetryMaxAttempts()
	}
	if s.Retry.InitialDelay == 0 {
		s.Retry.InitialDelay = d.GetRetryInitialDelay()
	}
	if s.Retry.MaxDelay == 0 {
		s.Retry.MaxDelay = d.GetRetryMaxDelay()
	}
	if s.AutoSave.Policy == "" {
		s.AutoSave.Policy = d.GetAutoSavePolicy()
	}
	if s.AutoSave.Cooldown == 0 {
		s.AutoSave.Cooldown = d.GetAutoSaveCooldown()
	}
	if s.Monitor.Period == 0 {
		s.Monitor.Period = d.GetMonitorPeriod()
	}
	if s.LogLevel == "" {
		s.LogLevel = d.GetLogLevel()
	}
}

// applyEnv lets the .env file (loaded by main) or the shell override the file.
func (s *Settings) applyEnv() {
	if v := os.Getenv("VSO_SOURCE"); v != "" {
		s.Source = v
	}
	if v := os.Getenv("VSO_MODEL_PATH"); v != "" {
		s.Model.Path = v
	}
	if v := os.Getenv("VSO_MODEL_LABELS"); v != "" {
		s.Model.Labels = v
	}
	if v := os.Getenv("VSO_MODEL_BACKEND"); v != "" {
		s.Model.Backend = v
	}
	if v := os.Getenv("VSO_ONNXRUNTIME_LIB"); v != "" {
		s.Model.OnnxRuntimeLibrary = v
	}
	if v := os.Getenv("VSO_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			s.Model.ConfidenceThreshold = float32(f)
		}
	}
	if v := os.Getenv("VSO_DATA_STORE"); v != "" {
		s.DataStore = v
	}
	if v := os.Getenv("VSO_AUTOSAVE"); v != "" {
		s.AutoSave.Policy = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
}

func (s *Settings) Validate() error {
	if s.Model.ConfidenceThreshold < 0 || s.Model.ConfidenceThreshold > 1 {
		return xerrors.Errorf("confidence threshold %v outside [0,1]", s.Model.ConfidenceThreshold)
	}
	if s.Pipeline.BufferDepth < 1 {
		return xerrors.Errorf("buffer depth must be at least 1, got %d", s.Pipeline.BufferDepth)
	}
	switch s.Model.Backend {
	case BackendGocv, BackendOnnx, BackendMock:
	default:
		return xerrors.Errorf("unknown model backend %q", s.Model.Backend)
	}
	switch s.DataStore {
	case StoreFiles, StoreSqlite:
	default:
		return xerrors.Errorf("unknown data store %q", s.DataStore)
	}
	switch s.AutoSave.Policy {
	case "off", "detections", "high-confidence":
	default:
		return xerrors.Errorf("unknown auto-save policy %q", s.AutoSave.Policy)
	}
	return nil
}

func (svc *yamlService) GetModeMaxShutdownTime() int        { return svc.s.ShutdownSeconds }
func (svc *yamlService) GetSource() string                  { return svc.s.Source }
func (svc *yamlService) GetModelPath() string               { return svc.s.Model.Path }
func (svc *yamlService) GetLabelsPath() string              { return svc.s.Model.Labels }
func (svc *yamlService) GetModelBackend() string            { return svc.s.Model.Backend }
func (svc *yamlService) GetModelInputSize() int             { return svc.s.Model.InputSize }
func (svc *yamlService) GetOnnxRuntimeLibrary() string      { return svc.s.Model.OnnxRuntimeLibrary }
func (svc *yamlService) GetConfidenceThreshold() float32    { return svc.s.Model.ConfidenceThreshold }
func (svc *yamlService) GetInputFolder() string             { return svc.s.Folders.Input }
func (svc *yamlService) GetOutputFolder() string            { return svc.s.Folders.Output }
func (svc *yamlService) GetSnapshotsFolder() string         { return svc.s.Folders.Snapshots }
func (svc *yamlService) GetLogsFolder() string              { return svc.s.Folders.Logs }
func (svc *yamlService) GetDataStore() string               { return svc.s.DataStore }
func (svc *yamlService) GetBufferDepth() int                { return svc.s.Pipeline.BufferDepth }
func (svc *yamlService) GetReadTimeout() time.Duration      { return svc.s.Pipeline.ReadTimeout }
func (svc *yamlService) GetPollInterval() time.Duration     { return svc.s.Pipeline.PollInterval }
func (svc *yamlService) GetStopGrace() time.Duration        { return svc.s.Pipeline.StopGrace }
func (svc *yamlService) GetRetryMaxAttempts() int           { return svc.s.Retry.MaxAttempts }
func (svc *yamlService) GetRetryInitialDelay() time.Duration { return svc.s.Retry.InitialDelay }
func (svc *yamlService) GetRetryMaxDelay() time.Duration    { return svc.s.Retry.MaxDelay }
func (svc *yamlService) GetMaxInferenceFailures() int       { return svc.s.Pipeline.MaxInferenceFailures }
func (svc *yamlService) GetAutoSavePolicy() string          { return svc.s.AutoSave.Policy }
func (svc *yamlService) GetAutoSaveCooldown() time.Duration { return svc.s.AutoSave.Cooldown }
func (svc *yamlService) GetMirrorCamera() bool              { return *svc.s.Pipeline.Mirror }
func (svc *yamlService) GetLogLevel() string                { return svc.s.LogLevel }
func (svc *yamlService) GetMonitorPeriod() time.Duration    { return svc.s.Monitor.Period }
