package pipeline

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/service/config"
	"github.com/khaledhikmat/vs-office/service/data"
	"github.com/khaledhikmat/vs-office/service/inference"
	"github.com/khaledhikmat/vs-office/service/storage"
	"github.com/stretchr/testify/require"
)

type rootedConfig struct {
	config.IService
	root string
}

func (c rootedConfig) GetInputFolder() string     { return filepath.Join(c.root, "input") }
func (c rootedConfig) GetOutputFolder() string    { return filepath.Join(c.root, "output") }
func (c rootedConfig) GetSnapshotsFolder() string { return filepath.Join(c.root, "snapshots") }
func (c rootedConfig) GetLogsFolder() string      { return filepath.Join(c.root, "logs") }

func testServices(t *testing.T, infer inference.IService) (ServicesFactory, rootedConfig) {
	t.Helper()

	cfg := rootedConfig{IService: config.NewHardCoded(), root: t.TempDir()}
	datasvc := data.NewFilesDB(cfg)
	t.Cleanup(func() { _ = datasvc.Close() })

	return ServicesFactory{
		CfgSvc:       cfg,
		DataSvc:      datasvc,
		StorageSvc:   storage.NewDisk(cfg),
		InferenceSvc: infer,
	}, cfg
}

func testConfig(sel model.SourceSelector) Config {
	return Config{
		Source:               sel,
		ConfidenceThreshold:  0.25,
		BufferDepth:          2,
		ReadTimeout:          50 * time.Millisecond,
		PollInterval:         10 * time.Millisecond,
		StopGrace:            200 * time.Millisecond,
		Retry:                RetryPolicy{MaxRetries: 3, RetryDelay: time.Millisecond, MaxRetryDelay: 4 * time.Millisecond},
		MaxInferenceFailures: 3,
		AutoSave:             AutoSaveOff,
		AutoSaveCooldown:     time.Second,
		LogInterval:          time.Millisecond,
	}
}

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

// scriptedSource yields frames forever (or errors, when readErr is set).
// With hang set, ReadNext ignores the context until Close is called.
// openDelay slows Open down like a camera warm-up; openCancellable lets the
// context cut it short.
type scriptedSource struct {
	mu              sync.Mutex
	seq             uint64
	img             *image.RGBA
	openErr         error
	openDelay       time.Duration
	openCancellable bool
	readErr         error
	hang            bool
	closed          bool
	closes          int
	release         chan struct{}
}

func newScriptedSource(img *image.RGBA) *scriptedSource {
	return &scriptedSource{img: img, release: make(chan struct{})}
}

func (s *scriptedSource) Open(canx context.Context) error {
	if s.openDelay > 0 {
		if !s.openCancellable {
			time.Sleep(s.openDelay)
			return s.openErr
		}
		select {
		case <-canx.Done():
			return canx.Err()
		case <-time.After(s.openDelay):
		}
	}
	return s.openErr
}

func (s *scriptedSource) ReadNext(canx context.Context) (model.Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.Frame{}, model.ErrEndOfStream
	}
	hang, readErr := s.hang, s.readErr
	s.mu.Unlock()

	if hang {
		<-s.release
		return model.Frame{}, model.ErrEndOfStream
	}

	select {
	case <-canx.Done():
		return model.Frame{}, canx.Err()
	case <-time.After(2 * time.Millisecond):
	}

	if readErr != nil {
		return model.Frame{}, readErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return model.Frame{Seq: s.seq, Image: s.img, Timestamp: time.Now(), Kind: model.SourceCamera, Origin: "scripted"}, nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if !s.closed {
		s.closed = true
		close(s.release)
	}
	return nil
}

func (s *scriptedSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *scriptedSource) Kind() model.SourceKind { return model.SourceCamera }
func (s *scriptedSource) Name() string           { return "scripted" }

func openerFor(src Source) Opener {
	return func(model.SourceSelector, Config) (Source, error) {
		return src, nil
	}
}

func waitForState(t *testing.T, c *Controller, want model.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.State() == want
	}, 5*time.Second, 5*time.Millisecond, "state never reached %s (now %s)", want, c.State())
}
