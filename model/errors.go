package model

import "golang.org/x/xerrors"

// Session-level errors end up wrapped in a CustomError; per-frame and
// persistence errors are reported as warnings.
var (
	ErrSourceUnavailable = xerrors.New("source unavailable")
	ErrSourceRead        = xerrors.New("source read failed")
	ErrEndOfStream       = xerrors.New("end of stream")
	ErrNoFrame           = xerrors.New("no frame available")
	ErrModelLoad         = xerrors.New("model load failed")
	ErrInference         = xerrors.New("inference failed")
	ErrPersistence       = xerrors.New("persistence failed")
	ErrBufferEmpty       = xerrors.New("buffer empty")
	ErrBufferClosed      = xerrors.New("buffer closed")
	ErrInvalidTransition = xerrors.New("invalid state transition")
	ErrInvalidConfig     = xerrors.New("invalid configuration")
)
