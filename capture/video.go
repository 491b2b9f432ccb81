package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/pipeline"
	"github.com/khaledhikmat/vs-office/service/lgr"
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"
)

const defaultFPS = 30.0

type video struct {
	path string

	mu       sync.Mutex
	file     *gocv.VideoCapture
	interval time.Duration
	next     time.Time
	closed   bool
	seq      uint64
}

// NewVideo returns a source that plays the video file at path at its
// native frame rate and ends with ErrEndOfStream.
func NewVideo(path string) pipeline.Source {
	return &video{path: path}
}

func (v *video) Open(_ context.Context) error {
	file, err := gocv.VideoCaptureFile(v.path)
	if err != nil {
		return xerrors.Errorf("%s: %v: %w", v.path, err, model.ErrSourceUnavailable)
	}
	if !file.IsOpened() {
		_ = file.Close()
		return xerrors.Errorf("%s could not be decoded: %w", v.path, model.ErrSourceUnavailable)
	}

	fps := file.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = defaultFPS
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		_ = file.Close()
		return xerrors.Errorf("%s closed while opening: %w", v.path, model.ErrSourceUnavailable)
	}
	v.file = file
	v.interval = time.Duration(float64(time.Second) / fps)
	v.next = time.Now()

	lgr.Logger.Info("video opened",
		slog.String("path", v.path),
		slog.Float64("fps", fps),
		slog.Float64("frames", file.Get(gocv.VideoCaptureFrameCount)),
	)
	return nil
}

func (v *video) ReadNext(canx context.Context) (model.Frame, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return model.Frame{}, model.ErrEndOfStream
	}
	if v.file == nil {
		return model.Frame{}, xerrors.Errorf("%s not open: %w", v.path, model.ErrSourceRead)
	}

	if wait := time.Until(v.next); wait > 0 {
		select {
		case <-canx.Done():
			return model.Frame{}, canx.Err()
		case <-time.After(wait):
		}
	}
	v.next = time.Now().Add(v.interval)

	img := gocv.NewMat()
	defer img.Close() // Crucial to close the image to avoid memory leaks

	if ok := v.file.Read(&img); !ok || img.Empty() {
		return model.Frame{}, model.ErrEndOfStream
	}

	decoded, err := img.ToImage()
	if err != nil {
		return model.Frame{}, xerrors.Errorf("%s frame %d: %v: %w", v.path, v.seq+1, err, model.ErrSourceRead)
	}

	v.seq++
	return model.Frame{
		Seq:       v.seq,
		Image:     pipeline.ToRGBA(decoded),
		Timestamp: time.Now(),
		Kind:      model.SourceFile,
		Origin:    v.path,
	}, nil
}

func (v *video) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true
	if v.file == nil {
		return nil
	}
	err := v.file.Close()
	v.file = nil
	return err
}

func (v *video) Kind() model.SourceKind {
	return model.SourceFile
}

func (v *video) Name() string {
	return v.path
}
