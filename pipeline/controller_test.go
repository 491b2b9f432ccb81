package pipeline

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/service/inference"
	"github.com/khaledhikmat/vs-office/service/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, infer inference.IService, opener Opener) (*Controller, rootedConfig) {
	t.Helper()

	svcs, cfg := testServices(t, infer)
	c := NewController(svcs, opener)
	t.Cleanup(func() { _ = c.Close() })
	return c, cfg
}

// collectEvents records every event until the returned func is called.
func collectEvents(c *Controller) func() []model.LogEvent {
	var events []model.LogEvent
	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e := <-c.Events():
				events = append(events, e)
			case <-stop:
				for {
					select {
					case e := <-c.Events():
						events = append(events, e)
					default:
						return
					}
				}
			}
		}
	}()
	return func() []model.LogEvent {
		close(stop)
		<-done
		return events
	}
}

func collectStates(c *Controller) func() []model.State {
	events := collectEvents(c)
	return func() []model.State {
		states := []model.State{}
		for _, e := range events() {
			if e.State != "" {
				states = append(states, e.State)
			}
		}
		return states
	}
}

func TestMugStillImage(t *testing.T) {
	infer := inference.New("mock", nil,
		inference.NewMockLoader(len(inference.DefaultLabels), 64, inference.DefaultMockBoxes...),
		inference.Options{IoUThreshold: 0.45, MaxDetections: 10},
	)
	c, _ := newTestController(t, infer, nil)
	states := collectStates(c)

	path := writePNG(t, t.TempDir(), "mug.png", testImage(64, 48))
	cfg := testConfig(model.SourceSelector{Kind: model.SourceFile, Path: path})
	require.NoError(t, c.Start(context.Background(), cfg))

	waitForState(t, c, model.StateIdle)

	// the only frame of a still image is still waiting on the display stream
	af, err := c.NextFrame(context.Background(), 300*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, af.Rendered)

	latest, ok := c.Latest()
	require.True(t, ok)
	assert.Equal(t, af.Frame.Seq, latest.Frame.Seq)

	best, ok := af.Detections.Best()
	require.True(t, ok)
	assert.Equal(t, "Mug", best.Label)
	assert.GreaterOrEqual(t, best.Confidence, float32(0.8))
	assert.True(t, af.Detections.Within(af.Frame.Bounds()))

	assert.Equal(t, []model.State{
		model.StateStarting,
		model.StateRunning,
		model.StateStopping,
		model.StateIdle,
	}, states())

	st := c.Session()
	assert.Equal(t, uint64(1), st.FramesInferred)
	assert.Nil(t, st.LastError)
}

func TestMissingCameraFaultsWithoutWorker(t *testing.T) {
	fake := inference.NewFake()
	opener := func(model.SourceSelector, Config) (Source, error) {
		src := newScriptedSource(nil)
		src.openErr = errors.New("no device at index 7")
		return src, nil
	}
	c, _ := newTestController(t, fake, opener)
	states := collectStates(c)

	err := c.Start(context.Background(), testConfig(model.SourceSelector{Kind: model.SourceCamera, CameraIndex: 7}))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSourceUnavailable)

	assert.Equal(t, model.StateFaulted, c.State())
	assert.ErrorIs(t, c.Session().LastError, model.ErrSourceUnavailable)
	assert.Equal(t, 0, fake.Calls())
	assert.Equal(t, 0, fake.Loads())

	// Start is refused until the fault is cleared
	assert.ErrorIs(t, c.Start(context.Background(), testConfig(model.SourceSelector{Kind: model.SourceCamera})), model.ErrInvalidTransition)
	require.NoError(t, c.Reset())
	assert.Equal(t, model.StateIdle, c.State())
	assert.ErrorIs(t, c.Reset(), model.ErrInvalidTransition)

	assert.Equal(t, []model.State{model.StateStarting, model.StateFaulted, model.StateIdle}, states())
}

func TestModelLoadFailureFaults(t *testing.T) {
	fake := inference.NewFake().FailLoad(errors.New("weights missing"))
	src := newScriptedSource(testImage(8, 8))
	c, _ := newTestController(t, fake, openerFor(src))

	err := c.Start(context.Background(), testConfig(model.SourceSelector{Kind: model.SourceCamera}))
	assert.ErrorIs(t, err, model.ErrModelLoad)
	assert.Equal(t, model.StateFaulted, c.State())
	assert.True(t, src.Closed())
}

func TestThreeInferenceFailuresFaultOnce(t *testing.T) {
	boom := errors.New("tensor shape mismatch")
	fake := inference.NewFake(
		inference.FakeStep{Err: boom},
		inference.FakeStep{Err: boom},
		inference.FakeStep{Err: boom},
		inference.FakeStep{Detections: []model.Detection{{Label: "Mug", Confidence: 0.9, Width: 2, Height: 2}}},
	)
	src := newScriptedSource(testImage(16, 16))
	c, _ := newTestController(t, fake, openerFor(src))
	states := collectStates(c)

	require.NoError(t, c.Start(context.Background(), testConfig(model.SourceSelector{Kind: model.SourceCamera})))
	waitForState(t, c, model.StateFaulted)

	st := c.Session()
	assert.ErrorIs(t, st.LastError, model.ErrInference)
	assert.False(t, st.DetectionAvailable)
	assert.Equal(t, uint64(3), st.InferenceErrors)
	assert.Equal(t, 3, fake.Calls())

	require.Eventually(t, src.Closed, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, fake.Calls(), "no inference after the fault")

	require.NoError(t, c.Stop())
	assert.Equal(t, model.StateFaulted, c.State())

	require.NoError(t, c.Reset())
	got := states()
	faults := 0
	for _, s := range got {
		if s == model.StateFaulted {
			faults++
		}
	}
	assert.Equal(t, 1, faults)
	assert.Equal(t, model.StateIdle, got[len(got)-1])
}

func TestSingleFailureIsSkipped(t *testing.T) {
	fake := inference.NewFake(
		inference.FakeStep{Err: errors.New("transient")},
		inference.FakeStep{Detections: []model.Detection{{Label: "Pen", Confidence: 0.7, X: 1, Y: 1, Width: 3, Height: 3}}},
	)
	src := newScriptedSource(testImage(16, 16))
	c, _ := newTestController(t, fake, openerFor(src))

	require.NoError(t, c.Start(context.Background(), testConfig(model.SourceSelector{Kind: model.SourceCamera})))
	waitForState(t, c, model.StateRunning)

	require.Eventually(t, func() bool {
		return c.Session().DetectionAvailable && c.Session().FramesInferred > 0
	}, 2*time.Second, 5*time.Millisecond)

	af, err := c.NextFrame(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Pen", af.Detections[0].Label)

	require.NoError(t, c.Stop())
	assert.Equal(t, model.StateIdle, c.State())
	assert.Equal(t, uint64(1), c.Session().InferenceErrors)
	assert.True(t, src.Closed())
}

func TestSnapshotDuringSession(t *testing.T) {
	src := newScriptedSource(testImage(24, 24))
	c, cfg := newTestController(t, inference.NewFake(), openerFor(src))

	_, err := c.Snapshot()
	assert.ErrorIs(t, err, model.ErrNoFrame)

	require.NoError(t, c.Start(context.Background(), testConfig(model.SourceSelector{Kind: model.SourceCamera})))
	waitForState(t, c, model.StateRunning)

	path, err := c.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, cfg.GetSnapshotsFolder(), filepath.Dir(path))

	saved, err := c.SaveDetection()
	require.NoError(t, err)
	assert.Equal(t, cfg.GetOutputFolder(), filepath.Dir(saved))

	// frames keep flowing while the files are written
	before := c.Session().FramesInferred
	require.Eventually(t, func() bool {
		return c.Session().FramesInferred > before
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	for _, p := range []string{path, saved} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}
}

func TestStopForcesReleaseOfStuckSource(t *testing.T) {
	src := newScriptedSource(testImage(8, 8))
	src.hang = true
	c, _ := newTestController(t, inference.NewFake(), openerFor(src))

	cfg := testConfig(model.SourceSelector{Kind: model.SourceCamera})
	require.NoError(t, c.Start(context.Background(), cfg))
	assert.Equal(t, model.StateStarting, c.State())

	start := time.Now()
	require.NoError(t, c.Stop())
	assert.Less(t, time.Since(start), 3*cfg.StopGrace+500*time.Millisecond)
	assert.Equal(t, model.StateIdle, c.State())
	assert.True(t, src.Closed())

	// stopping twice is harmless
	require.NoError(t, c.Stop())
}

func TestStopDuringStartupReleasesSource(t *testing.T) {
	tests := []struct {
		name        string
		cancellable bool
	}{
		{"open ignores cancel", false},
		{"open honours cancel", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := inference.NewFake()
			src := newScriptedSource(testImage(8, 8))
			src.openDelay = 150 * time.Millisecond
			src.openCancellable = tt.cancellable
			c, _ := newTestController(t, fake, openerFor(src))
			states := collectStates(c)

			started := make(chan error, 1)
			go func() {
				started <- c.Start(context.Background(), testConfig(model.SourceSelector{Kind: model.SourceCamera}))
			}()
			waitForState(t, c, model.StateStarting)
			time.Sleep(30 * time.Millisecond)

			require.NoError(t, c.Stop())
			assert.Equal(t, model.StateIdle, c.State())
			assert.True(t, src.Closed())

			err := <-started
			assert.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, 0, fake.Calls())
			assert.Nil(t, c.Session().LastError)

			time.Sleep(30 * time.Millisecond)
			assert.Equal(t, model.StateIdle, c.State())
			assert.Equal(t, []model.State{model.StateStarting, model.StateStopping, model.StateIdle}, states())

			// a fresh start works afterwards
			src2 := newScriptedSource(testImage(8, 8))
			c.opener = openerFor(src2)
			require.NoError(t, c.Start(context.Background(), testConfig(model.SourceSelector{Kind: model.SourceCamera})))
			waitForState(t, c, model.StateRunning)
			require.NoError(t, c.Stop())
			assert.True(t, src2.Closed())
		})
	}
}

// failingStorage models a full or stalled disk.
type failingStorage struct {
	storage.IService
	gate chan struct{}
}

func (s failingStorage) SaveImage(path string, img image.Image) error {
	if s.gate != nil {
		<-s.gate
	}
	return errors.New("no space left on device")
}

func TestPersistenceFailureDoesNotDelayDisplay(t *testing.T) {
	tests := []struct {
		name  string
		stall bool
	}{
		{"disk errors", false},
		{"disk stalls", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := inference.NewFake(inference.FakeStep{Detections: []model.Detection{{Label: "Mug", Confidence: 0.9, X: 1, Y: 1, Width: 4, Height: 4}}})
			svcs, _ := testServices(t, fake)
			broken := failingStorage{IService: svcs.StorageSvc}
			if tt.stall {
				broken.gate = make(chan struct{})
			}
			svcs.StorageSvc = broken

			src := newScriptedSource(testImage(16, 16))
			c := NewController(svcs, openerFor(src))
			t.Cleanup(func() { _ = c.Close() })
			if tt.stall {
				t.Cleanup(func() { close(broken.gate) })
			}
			events := collectEvents(c)

			cfg := testConfig(model.SourceSelector{Kind: model.SourceCamera})
			cfg.AutoSave = AutoSaveDetections
			cfg.AutoSaveCooldown = 0
			require.NoError(t, c.Start(context.Background(), cfg))
			waitForState(t, c, model.StateRunning)

			_, _ = c.Snapshot()
			for i := 0; i < 50; i++ {
				start := time.Now()
				af, err := c.NextFrame(context.Background(), 200*time.Millisecond)
				require.NoError(t, err, "frame %d", i)
				assert.Less(t, time.Since(start), 100*time.Millisecond)
				assert.Equal(t, "Mug", af.Detections[0].Label)
			}
			assert.Equal(t, model.StateRunning, c.State())

			require.NoError(t, c.Stop())
			warned := false
			for _, e := range events() {
				if e.Level == model.LevelWarn && errors.Is(e.Err, model.ErrPersistence) {
					warned = true
					break
				}
			}
			assert.True(t, warned, "expected a persistence warning")
			assert.NotEqual(t, model.StateFaulted, c.State())
		})
	}
}

func TestSourceReadErrorsRetryThenFault(t *testing.T) {
	src := newScriptedSource(nil)
	src.readErr = model.ErrSourceRead
	c, _ := newTestController(t, inference.NewFake(), openerFor(src))

	require.NoError(t, c.Start(context.Background(), testConfig(model.SourceSelector{Kind: model.SourceCamera})))
	waitForState(t, c, model.StateFaulted)

	assert.ErrorIs(t, c.Session().LastError, model.ErrSourceRead)
	require.Eventually(t, src.Closed, time.Second, 5*time.Millisecond)
}

func TestParentCancelStopsSession(t *testing.T) {
	src := newScriptedSource(testImage(8, 8))
	c, _ := newTestController(t, inference.NewFake(), openerFor(src))

	canx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(canx, testConfig(model.SourceSelector{Kind: model.SourceCamera})))
	waitForState(t, c, model.StateRunning)

	cancel()
	waitForState(t, c, model.StateIdle)
	assert.True(t, src.Closed())
}

func TestStartUploadRunsCopy(t *testing.T) {
	fake := inference.NewFake(inference.FakeStep{Detections: []model.Detection{{Label: "Laptop", Confidence: 0.95, Width: 4, Height: 4}}})
	c, cfg := newTestController(t, fake, nil)

	path := writePNG(t, t.TempDir(), "desk.png", testImage(16, 16))
	run := testConfig(model.SourceSelector{})
	run.AutoSave = AutoSaveDetections
	require.NoError(t, c.StartUpload(context.Background(), path, run))
	waitForState(t, c, model.StateIdle)

	assert.Equal(t, cfg.GetInputFolder(), filepath.Dir(c.Session().Source.Path))

	af, ok := c.Latest()
	require.True(t, ok)
	assert.Equal(t, "Laptop", af.Detections[0].Label)

	require.NoError(t, c.Close())
	entries, err := os.ReadDir(cfg.GetOutputFolder())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStartRejectsBadConfig(t *testing.T) {
	c, _ := newTestController(t, inference.NewFake(), nil)
	cfg := testConfig(model.SourceSelector{Kind: model.SourceCamera})
	cfg.ConfidenceThreshold = 1.5
	assert.ErrorIs(t, c.Start(context.Background(), cfg), model.ErrInvalidConfig)
	assert.Equal(t, model.StateIdle, c.State())
}
