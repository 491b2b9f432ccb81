package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/pipeline"
	"github.com/khaledhikmat/vs-office/service/lgr"
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"
)

const (
	frameWidth     = 640
	frameHeight    = 480
	warmupAttempts = 3
	warmupPause    = 100 * time.Millisecond
)

type readResult struct {
	img *image.RGBA
	err error
}

type camera struct {
	index   int
	timeout time.Duration
	mirror  bool

	mu       sync.Mutex
	webcam   *gocv.VideoCapture
	pending  chan readResult
	inflight sync.WaitGroup
	closed   bool
	seq      uint64
}

// NewCamera returns a source for the local capture device at index.
// Frames are mirrored horizontally when cfg.Mirror is set.
func NewCamera(index int, cfg pipeline.Config) pipeline.Source {
	return &camera{
		index:   index,
		timeout: cfg.ReadTimeout,
		mirror:  cfg.Mirror,
	}
}

func (c *camera) Open(canx context.Context) error {
	webcam, err := gocv.VideoCaptureDevice(c.index)
	if err != nil {
		return xerrors.Errorf("camera %d: %v: %w", c.index, err, model.ErrSourceUnavailable)
	}
	if !webcam.IsOpened() {
		_ = webcam.Close()
		return xerrors.Errorf("camera %d not opened: %w", c.index, model.ErrSourceUnavailable)
	}

	webcam.Set(gocv.VideoCaptureFrameWidth, frameWidth)
	webcam.Set(gocv.VideoCaptureFrameHeight, frameHeight)
	// keep the driver from queueing stale frames
	webcam.Set(gocv.VideoCaptureBufferSize, 1)

	// Some devices report opened but deliver nothing for the first reads
	img := gocv.NewMat()
	defer img.Close()

	warm := false
	for i := 0; i < warmupAttempts && !warm; i++ {
		if ok := webcam.Read(&img); ok && !img.Empty() {
			warm = true
			break
		}
		select {
		case <-canx.Done():
			_ = webcam.Close()
			return canx.Err()
		case <-time.After(warmupPause):
		}
	}
	if !warm {
		_ = webcam.Close()
		return xerrors.Errorf("camera %d delivered no frame after %d attempts: %w", c.index, warmupAttempts, model.ErrSourceUnavailable)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = webcam.Close()
		return xerrors.Errorf("camera %d closed while opening: %w", c.index, model.ErrSourceUnavailable)
	}
	c.webcam = webcam

	lgr.Logger.Info("camera opened",
		slog.Int("index", c.index),
		slog.Float64("width", webcam.Get(gocv.VideoCaptureFrameWidth)),
		slog.Float64("height", webcam.Get(gocv.VideoCaptureFrameHeight)),
	)
	return nil
}

// ReadNext waits at most the read timeout for a frame. A read still in
// flight after the timeout is picked up by the next call instead of
// starting a second one on the same device.
func (c *camera) ReadNext(canx context.Context) (model.Frame, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.Frame{}, model.ErrEndOfStream
	}
	if c.webcam == nil {
		c.mu.Unlock()
		return model.Frame{}, xerrors.Errorf("camera %d not open: %w", c.index, model.ErrSourceRead)
	}
	if c.pending == nil {
		c.pending = make(chan readResult, 1)
		c.inflight.Add(1)
		go c.read(c.webcam, c.pending)
	}
	pending := c.pending
	c.mu.Unlock()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-canx.Done():
		return model.Frame{}, canx.Err()
	case <-timer.C:
		return model.Frame{}, model.ErrNoFrame
	case res := <-pending:
		c.mu.Lock()
		defer c.mu.Unlock()
		c.pending = nil
		if res.err != nil {
			return model.Frame{}, res.err
		}
		c.seq++
		return model.Frame{
			Seq:       c.seq,
			Image:     res.img,
			Timestamp: time.Now(),
			Kind:      model.SourceCamera,
			Origin:    c.Name(),
		}, nil
	}
}

func (c *camera) read(webcam *gocv.VideoCapture, out chan<- readResult) {
	defer c.inflight.Done()

	img := gocv.NewMat()
	defer img.Close() // Crucial to close the image to avoid memory leaks

	if ok := webcam.Read(&img); !ok || img.Empty() {
		out <- readResult{err: xerrors.Errorf("camera %d returned no image: %w", c.index, model.ErrSourceRead)}
		return
	}

	if c.mirror {
		gocv.Flip(img, &img, 1)
	}

	decoded, err := img.ToImage()
	if err != nil {
		out <- readResult{err: xerrors.Errorf("camera %d: %v: %w", c.index, err, model.ErrSourceRead)}
		return
	}
	out <- readResult{img: pipeline.ToRGBA(decoded)}
}

// Close releases the device. When a read is stuck in the driver the
// device is released as soon as that read returns.
func (c *camera) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	webcam := c.webcam
	c.webcam = nil
	c.mu.Unlock()

	if webcam == nil {
		return nil
	}

	idle := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		return webcam.Close()
	case <-time.After(c.timeout):
		lgr.Logger.Warn("camera read still pending, releasing device when it returns", slog.Int("index", c.index))
		go func() {
			<-idle
			if err := webcam.Close(); err != nil {
				lgr.Logger.Warn("error closing camera", slog.Int("index", c.index), slog.Any("error", err))
			}
		}()
		return nil
	}
}

func (c *camera) Kind() model.SourceKind {
	return model.SourceCamera
}

func (c *camera) Name() string {
	return fmt.Sprintf("camera:%d", c.index)
}
