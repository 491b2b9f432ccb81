package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateFaulted  State = "faulted"
)

var transitions = map[State][]State{
	StateIdle:     {StateStarting},
	StateStarting: {StateRunning, StateStopping, StateFaulted},
	StateRunning:  {StateStopping, StateFaulted},
	StateStopping: {StateIdle},
	StateFaulted:  {StateIdle},
}

// CanTransition reports whether the controller may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourceSelector picks a camera by index or a file by path.
type SourceSelector struct {
	Kind        SourceKind `json:"kind" yaml:"kind"`
	CameraIndex int        `json:"cameraIndex" yaml:"cameraIndex"`
	Path        string     `json:"path" yaml:"path"`
}

// ParseSourceSelector accepts "0", "camera:1" or a file path.
func ParseSourceSelector(s string) (SourceSelector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SourceSelector{}, xerrors.Errorf("empty source selector: %w", ErrInvalidConfig)
	}

	raw := strings.TrimPrefix(s, "camera:")
	if idx, err := strconv.Atoi(raw); err == nil {
		if idx < 0 {
			return SourceSelector{}, xerrors.Errorf("negative camera index %d: %w", idx, ErrInvalidConfig)
		}
		return SourceSelector{Kind: SourceCamera, CameraIndex: idx}, nil
	}

	if raw != s {
		return SourceSelector{}, xerrors.Errorf("bad camera selector %q: %w", s, ErrInvalidConfig)
	}

	return SourceSelector{Kind: SourceFile, Path: strings.TrimPrefix(s, "file:")}, nil
}

func (s SourceSelector) String() string {
	if s.Kind == SourceCamera {
		return fmt.Sprintf("camera:%d", s.CameraIndex)
	}
	return s.Path
}

type SessionState struct {
	ID                 string         `json:"id"`
	State              State          `json:"state"`
	Source             SourceSelector `json:"source"`
	StartedAt          time.Time      `json:"startedAt"`
	LastError          error          `json:"-"`
	DetectionAvailable bool           `json:"detectionAvailable"`
	FramesCaptured     uint64         `json:"framesCaptured"`
	FramesDropped      uint64         `json:"framesDropped"`
	FramesInferred     uint64         `json:"framesInferred"`
	InferenceErrors    uint64         `json:"inferenceErrors"`
}

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// LogEvent is what the UI collaborator shows in its log pane.
type LogEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	State     State     `json:"state,omitempty"`
	Err       error     `json:"-"`
}
