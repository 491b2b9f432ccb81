package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/service/lgr"
	"golang.org/x/xerrors"
)

const (
	displayDepth = 2
	eventsDepth  = 256
	persistQueue = 32
)

// Controller runs detection sessions and is the only surface the UI talks
// to: configuration goes in through Start, annotated frames, log events and
// the session state come out.
//
// States: Idle -> Starting -> Running -> Stopping -> Idle, with Faulted
// reachable from Starting and Running and left only through Reset.
type Controller struct {
	svcs      ServicesFactory
	opener    Opener
	persister *Persister

	mu      sync.Mutex
	state   model.State
	session *session
	lastErr error
	summary model.SessionState

	// set while Start runs without a session yet
	starting    chan struct{}
	cancelStart context.CancelFunc
	stopPending bool

	display *Buffer[model.AnnotatedFrame]
	latest  atomic.Pointer[model.AnnotatedFrame]
	events  chan model.LogEvent
}

// NewController wires the services together. opener builds sources; nil
// means still images only.
func NewController(svcs ServicesFactory, opener Opener) *Controller {
	if opener == nil {
		opener = StillOpener
	}

	c := &Controller{
		svcs:    svcs,
		opener:  opener,
		state:   model.StateIdle,
		display: NewBuffer[model.AnnotatedFrame](displayDepth, nil),
		events:  make(chan model.LogEvent, eventsDepth),
	}
	c.persister = NewPersister(svcs.StorageSvc, svcs.DataSvc, persistQueue, c.emit)
	return c
}

// Start opens the source, loads the model if needed and launches the
// session. Any failure leaves the controller Faulted with everything
// released.
func (c *Controller) Start(canx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != model.StateIdle {
		st := c.state
		c.mu.Unlock()
		return xerrors.Errorf("cannot start while %s: %w", st, model.ErrInvalidTransition)
	}
	openCanx, cancelOpen := context.WithCancel(canx)
	starting := make(chan struct{})
	c.lastErr = nil
	c.starting = starting
	c.cancelStart = cancelOpen
	c.stopPending = false
	c.display.Drain()
	c.setStateLocked(model.StateStarting)
	c.mu.Unlock()

	defer func() {
		cancelOpen()
		c.mu.Lock()
		c.starting = nil
		c.cancelStart = nil
		c.mu.Unlock()
		close(starting)
	}()

	if err := c.svcs.StorageSvc.EnsureFolders(); err != nil {
		c.emit(model.LevelWarn, "could not create folders", xerrors.Errorf("%v: %w", err, model.ErrPersistence))
	}

	src, err := c.opener(cfg.Source, cfg)
	if err == nil {
		err = src.Open(openCanx)
	}
	if err != nil {
		if src != nil {
			_ = src.Close()
		}
		if aerr := c.abortStart(nil); aerr != nil {
			return aerr
		}
		if !errors.Is(err, model.ErrSourceUnavailable) {
			err = xerrors.Errorf("%v: %w", err, model.ErrSourceUnavailable)
		}
		return c.fault(model.GenError("controller", err,
			map[string]interface{}{"source": cfg.Source.String()},
			"source %s unavailable", cfg.Source))
	}

	if !c.svcs.InferenceSvc.Loaded() {
		if err := c.svcs.InferenceSvc.Load(); err != nil {
			_ = src.Close()
			if aerr := c.abortStart(nil); aerr != nil {
				return aerr
			}
			if !errors.Is(err, model.ErrModelLoad) {
				err = xerrors.Errorf("%v: %w", err, model.ErrModelLoad)
			}
			return c.fault(model.GenError("controller", err, nil, "model load failed"))
		}
	}

	c.mu.Lock()
	if c.stopPending {
		c.mu.Unlock()
		return c.abortStart(src)
	}
	s := newSession(canx, cfg, src)
	c.session = s
	c.mu.Unlock()

	c.emit(model.LevelInfo, fmt.Sprintf("session %s started on %s", s.id, src.Name()), nil)

	s.wg.Add(2)
	go c.framer(s)
	go c.worker(s)
	go c.presenter(s)
	go c.supervise(s)
	return nil
}

// StartUpload copies path into the input folder and starts a file session on the copy.
func (c *Controller) StartUpload(canx context.Context, path string, cfg Config) error {
	dst, err := c.persister.AcceptUpload(path)
	if err != nil {
		c.emit(model.LevelWarn, "upload rejected", err)
		return err
	}

	cfg.Source = model.SourceSelector{Kind: model.SourceFile, Path: dst}
	return c.Start(canx, cfg)
}

// Stop ends the running session and returns once its resources are
// released. Stopping an idle or faulted controller is a no-op. A Stop that
// lands while Start is still opening the source or loading the model makes
// Start give up and release the source.
func (c *Controller) Stop() error {
	c.mu.Lock()
	s := c.session
	st := c.state
	if s == nil && st == model.StateStarting && c.starting != nil {
		starting := c.starting
		c.stopPending = true
		c.cancelStart()
		c.mu.Unlock()
		<-starting
		return nil
	}
	c.mu.Unlock()

	if s == nil {
		return nil
	}

	switch st {
	case model.StateStarting, model.StateRunning:
		c.finish(s, model.StateIdle, nil)
	default:
		<-s.done
	}
	return nil
}

// Reset clears a fault so the controller can be started again.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.state != model.StateFaulted {
		st := c.state
		c.mu.Unlock()
		return xerrors.Errorf("cannot reset while %s: %w", st, model.ErrInvalidTransition)
	}
	s := c.session
	c.mu.Unlock()

	if s != nil {
		<-s.done
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = nil
	c.session = nil
	c.setStateLocked(model.StateIdle)
	return nil
}

// Close stops any session and flushes pending writes.
func (c *Controller) Close() error {
	err := c.Stop()
	c.persister.Close()
	return err
}

// NextFrame waits up to timeout for the next annotated frame.
func (c *Controller) NextFrame(canx context.Context, timeout time.Duration) (model.AnnotatedFrame, error) {
	return c.display.Pop(canx, timeout)
}

// Latest returns the last rendered frame. It survives read errors and
// the end of a session.
func (c *Controller) Latest() (model.AnnotatedFrame, bool) {
	af := c.latest.Load()
	if af == nil {
		return model.AnnotatedFrame{}, false
	}
	return *af, true
}

func (c *Controller) Events() <-chan model.LogEvent {
	return c.events
}

func (c *Controller) State() model.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Session() model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.summary
	if c.session != nil {
		st = c.session.snapshot()
	}
	st.State = c.state
	st.LastError = c.lastErr
	return st
}

// Snapshot queues the current raw frame for the snapshots folder.
func (c *Controller) Snapshot() (string, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	var frame model.Frame
	if s != nil {
		if f := s.lastRaw.Load(); f != nil {
			frame = *f
		}
	}
	if frame.Empty() {
		if af := c.latest.Load(); af != nil {
			frame = af.Frame
		}
	}
	if frame.Empty() {
		return "", model.ErrNoFrame
	}
	return c.persister.Snapshot(frame)
}

// SaveDetection queues the latest annotated frame for the output folder.
func (c *Controller) SaveDetection() (string, error) {
	af := c.latest.Load()
	if af == nil {
		return "", model.ErrNoFrame
	}
	return c.persister.SaveDetection(*af, "")
}

func (c *Controller) supervise(s *session) {
	for {
		select {
		case err := <-s.fatalStream:
			c.finish(s, model.StateFaulted, err)
			return
		case <-s.finished:
			c.finish(s, model.StateIdle, nil)
			return
		case <-s.canx.Done():
			c.finish(s, model.StateIdle, nil)
			return
		case e := <-s.errorStream:
			c.procError(e)
		case st := <-s.statsStream:
			c.procStats(st)
		case <-s.done:
			return
		}
	}
}

// finish tears a session down exactly once. final is StateIdle for a
// normal stop or end of stream and StateFaulted for a fatal error.
func (c *Controller) finish(s *session, final model.State, cause error) {
	s.finishOnce.Do(func() {
		c.mu.Lock()
		if final == model.StateFaulted {
			c.lastErr = cause
			c.setStateLocked(model.StateFaulted)
		} else {
			c.setStateLocked(model.StateStopping)
		}
		c.mu.Unlock()

		if cause != nil {
			c.procError(cause)
			c.emit(model.LevelError, "session faulted", cause)
		}

		s.cancel()
		s.frames.Close()

		select {
		case <-s.framerDone:
		case <-time.After(s.cfg.StopGrace):
			c.emit(model.LevelWarn, "source unresponsive, forcing release", nil)
		}
		// the framer closes the source on exit; this covers a stuck read
		if err := s.src.Close(); err != nil {
			lgr.Logger.Warn("error releasing source", slog.Any("error", err))
		}

		workersDone := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(workersDone)
		}()
		select {
		case <-workersDone:
		case <-time.After(s.cfg.StopGrace):
			c.emit(model.LevelWarn, "inference still running, worker abandoned", nil)
		}

		s.results.Close()
		s.frames.Drain()
		s.results.Drain()
		c.drainStreams(s)

		c.mu.Lock()
		c.summary = s.snapshot()
		if final != model.StateFaulted {
			c.session = nil
			c.setStateLocked(model.StateIdle)
		}
		c.mu.Unlock()

		close(s.done)
	})
}

func (c *Controller) drainStreams(s *session) {
	for {
		select {
		case e := <-s.errorStream:
			c.procError(e)
		case st := <-s.statsStream:
			c.procStats(st)
		default:
			return
		}
	}
}

func (c *Controller) markRunning(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == s && c.state == model.StateStarting {
		c.setStateLocked(model.StateRunning)
	}
}

// abortStart ends a Start that was stopped before its session existed.
// It returns nil when no stop was requested.
func (c *Controller) abortStart(src Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stopPending {
		return nil
	}
	if src != nil {
		if err := src.Close(); err != nil {
			lgr.Logger.Warn("error releasing source", slog.Any("error", err))
		}
	}
	c.stopPending = false
	c.setStateLocked(model.StateStopping)
	c.setStateLocked(model.StateIdle)
	return xerrors.Errorf("start stopped before the session began: %w", context.Canceled)
}

// fault handles failures before any session goroutine exists.
func (c *Controller) fault(cerr model.CustomError) error {
	c.mu.Lock()
	c.lastErr = cerr
	c.setStateLocked(model.StateFaulted)
	c.mu.Unlock()

	c.procError(cerr)
	c.emit(model.LevelError, cerr.Message, cerr)
	return cerr
}

// setStateLocked must be called with mu held. Invalid transitions are
// logged and ignored.
func (c *Controller) setStateLocked(to model.State) {
	from := c.state
	if !model.CanTransition(from, to) {
		lgr.Logger.Error("invalid state transition",
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return
	}
	c.state = to
	c.publish(model.LogEvent{
		Timestamp: time.Now(),
		Level:     model.LevelInfo,
		Message:   fmt.Sprintf("state %s -> %s", from, to),
		State:     to,
	})
}

func (c *Controller) emit(level model.Level, msg string, err error) {
	c.publish(model.LogEvent{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Err:       err,
	})
}

// publish logs e and offers it to the UI; a slow UI loses events rather
// than stalling the pipeline.
func (c *Controller) publish(e model.LogEvent) {
	attrs := []any{}
	if e.State != "" {
		attrs = append(attrs, slog.String("state", string(e.State)))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.Any("error", e.Err))
	}

	switch e.Level {
	case model.LevelDebug:
		lgr.Logger.Debug(e.Message, attrs...)
	case model.LevelWarn:
		lgr.Logger.Warn(e.Message, attrs...)
	case model.LevelError:
		lgr.Logger.Error(e.Message, attrs...)
	default:
		lgr.Logger.Info(e.Message, attrs...)
	}

	select {
	case c.events <- e:
	default:
	}
}

func (c *Controller) procError(err interface{}) {
	if errTemp := c.svcs.DataSvc.NewError(err); errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			slog.Any("error", errTemp),
		)
	}
}

func (c *Controller) procStats(stats interface{}) {
	var err error
	switch stats := stats.(type) {
	case model.FramerStats:
		err = c.svcs.DataSvc.NewFramerStats(stats)
	case model.WorkerStats:
		err = c.svcs.DataSvc.NewWorkerStats(stats)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
		return
	}

	if err != nil {
		lgr.Logger.Error(
			"failed to store stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}
