package model

import (
	"fmt"
	"runtime/debug"

	"github.com/mdobak/go-xerrors"
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

// GenError records where a session-level error surfaced. The inner error
// carries the caller's stack so the logger can print it.
func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      xerrors.WithStackTrace(err, 1),
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

func (e CustomError) Error() string {
	if e.Inner == nil {
		return fmt.Sprintf("%s: %s", e.Processor, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Processor, e.Message, e.Inner)
}

// Unwrap exposes the inner error so errors.Is can match the taxonomy sentinels.
func (e CustomError) Unwrap() error {
	return e.Inner
}

type FramerStats struct {
	Name      string `json:"name"`
	Source    string `json:"source"`
	FPS       int    `json:"fps"`
	Frames    int    `json:"frames"`
	Dropped   int    `json:"dropped"`
	Errors    int    `json:"errors"`
	Retries   int    `json:"retries"`
	Uptime    int64  `json:"uptime"`
	Timestamp int64  `json:"timestamp"`
}

type WorkerStats struct {
	Name        string  `json:"name"`
	Source      string  `json:"source"`
	Frames      int     `json:"frames"`
	Detections  int     `json:"detections"`
	Errors      int     `json:"errors"`
	Uptime      int64   `json:"uptime"`
	AvgProcTime float64 `json:"avgProcTime"`
	Timestamp   int64   `json:"timestamp"`
}

type PersisterStats struct {
	Name      string `json:"name"`
	Saved     int    `json:"saved"`
	Dropped   int    `json:"dropped"`
	Errors    int    `json:"errors"`
	Uptime    int64  `json:"uptime"`
	Timestamp int64  `json:"timestamp"`
}
