package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/service/lgr"
)

const streamDepth = 64

// session is one start-to-stop run. Everything a run allocates hangs off
// it so teardown can release it in one place.
type session struct {
	id     string
	cfg    Config
	src    Source
	canx   context.Context
	cancel context.CancelFunc

	frames  *Buffer[model.Frame]
	results *Buffer[model.Result]

	errorStream chan interface{}
	statsStream chan interface{}
	fatalStream chan error

	finished   chan struct{} // presenter saw the end of the stream
	framerDone chan struct{}
	done       chan struct{} // teardown complete
	wg         sync.WaitGroup
	finishOnce sync.Once

	startedAt          time.Time
	detectionAvailable atomic.Bool
	captured           atomic.Uint64
	inferred           atomic.Uint64
	inferErrors        atomic.Uint64
	lastRaw            atomic.Pointer[model.Frame]
}

func newSession(parent context.Context, cfg Config, src Source) *session {
	canx, cancel := context.WithCancel(parent)
	s := &session{
		id:          uuid.NewString(),
		cfg:         cfg,
		src:         src,
		canx:        canx,
		cancel:      cancel,
		frames:      NewBuffer[model.Frame](cfg.BufferDepth, nil),
		results:     NewBuffer[model.Result](cfg.BufferDepth, nil),
		errorStream: make(chan interface{}, streamDepth),
		statsStream: make(chan interface{}, streamDepth),
		fatalStream: make(chan error, 1),
		finished:    make(chan struct{}),
		framerDone:  make(chan struct{}),
		done:        make(chan struct{}),
		startedAt:   time.Now(),
	}
	s.detectionAvailable.Store(true)
	return s
}

// fatal records the first session-ending error; later ones are dropped.
func (s *session) fatal(err error) {
	select {
	case s.fatalStream <- err:
	default:
	}
}

// report never blocks a stage; a full stream loses the entry.
func (s *session) report(stream chan interface{}, v interface{}) {
	select {
	case stream <- v:
	default:
		lgr.Logger.Warn("session stream full, dropping entry",
			slog.String("session", s.id),
			slog.Any("entry", v),
		)
	}
}

func (s *session) snapshot() model.SessionState {
	return model.SessionState{
		ID:                 s.id,
		Source:             s.cfg.Source,
		StartedAt:          s.startedAt,
		DetectionAvailable: s.detectionAvailable.Load(),
		FramesCaptured:     s.captured.Load(),
		FramesDropped:      s.frames.Dropped() + s.results.Dropped(),
		FramesInferred:     s.inferred.Load(),
		InferenceErrors:    s.inferErrors.Load(),
	}
}
