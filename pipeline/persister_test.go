package pipeline

import (
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/service/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowStorage blocks SaveImage until released.
type slowStorage struct {
	storage.IService
	gate chan struct{}
}

func (s slowStorage) SaveImage(path string, img image.Image) error {
	<-s.gate
	return s.IService.SaveImage(path, img)
}

func TestPersisterWritesSnapshotAndDetection(t *testing.T) {
	svcs, cfg := testServices(t, nil)
	require.NoError(t, svcs.StorageSvc.EnsureFolders())

	p := NewPersister(svcs.StorageSvc, svcs.DataSvc, 4, nil)
	frame := model.Frame{Seq: 1, Image: testImage(20, 10), Timestamp: time.Now()}

	snap, err := p.Snapshot(frame)
	require.NoError(t, err)
	assert.Equal(t, cfg.GetSnapshotsFolder(), filepath.Dir(snap))

	af := Render(frame, model.DetectionSet{{Label: "Mug", Confidence: 0.9, X: 1, Y: 1, Width: 5, Height: 5}}, 0.25)
	det, err := p.SaveDetection(af, "")
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(det), "_mug_")

	require.NoError(t, p.Record([]model.DetectionRecord{{SessionID: "s", Label: "Mug", Confidence: 0.9}}))
	p.Close()
	p.Close()

	for _, path := range []string{snap, det} {
		_, err := os.Stat(path)
		assert.NoError(t, err, path)
	}
	assert.Equal(t, 2, p.Stats().Saved)

	records, err := svcs.DataSvc.RetrieveDetections(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Mug", records[0].Label)

	_, err = p.Snapshot(frame)
	assert.ErrorIs(t, err, model.ErrPersistence)
}

func TestPersisterDropsWhenQueueFull(t *testing.T) {
	svcs, _ := testServices(t, nil)
	require.NoError(t, svcs.StorageSvc.EnsureFolders())
	gate := make(chan struct{})

	var mu sync.Mutex
	warnings := 0
	emit := func(level model.Level, _ string, _ error) {
		if level == model.LevelWarn {
			mu.Lock()
			warnings++
			mu.Unlock()
		}
	}

	p := NewPersister(slowStorage{IService: svcs.StorageSvc, gate: gate}, svcs.DataSvc, 1, emit)
	frame := model.Frame{Seq: 1, Image: testImage(4, 4), Timestamp: time.Now()}

	// one job in flight, one queued, the rest dropped; none of the calls block
	start := time.Now()
	var dropped int
	for i := 0; i < 5; i++ {
		if _, err := p.Snapshot(frame); err != nil {
			assert.ErrorIs(t, err, model.ErrPersistence)
			dropped++
		}
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.GreaterOrEqual(t, dropped, 3)

	close(gate)
	p.Close()

	stats := p.Stats()
	assert.Equal(t, dropped, stats.Dropped)
	assert.Equal(t, 5-dropped, stats.Saved)
	mu.Lock()
	assert.Equal(t, dropped, warnings)
	mu.Unlock()
}

func TestPersisterAcceptUpload(t *testing.T) {
	svcs, cfg := testServices(t, nil)
	p := NewPersister(svcs.StorageSvc, svcs.DataSvc, 1, nil)
	defer p.Close()

	src := writePNG(t, t.TempDir(), "desk.png", testImage(8, 8))
	dst, err := p.AcceptUpload(src)
	require.NoError(t, err)
	assert.Equal(t, cfg.GetInputFolder(), filepath.Dir(dst))

	a, _ := os.ReadFile(src)
	b, _ := os.ReadFile(dst)
	assert.Equal(t, a, b)

	_, err = p.AcceptUpload(filepath.Join(t.TempDir(), "notes.txt"))
	assert.ErrorIs(t, err, model.ErrInvalidConfig)

	_, err = p.AcceptUpload(filepath.Join(t.TempDir(), "gone.jpg"))
	assert.ErrorIs(t, err, model.ErrSourceUnavailable)
}
