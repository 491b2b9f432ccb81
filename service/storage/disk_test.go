package storage

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/khaledhikmat/vs-office/service/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type folders struct {
	config.IService
	root string
}

func (f folders) GetInputFolder() string     { return filepath.Join(f.root, "input") }
func (f folders) GetOutputFolder() string    { return filepath.Join(f.root, "output") }
func (f folders) GetSnapshotsFolder() string { return filepath.Join(f.root, "snapshots") }

func newTestDisk(t *testing.T) (IService, folders) {
	cfg := folders{IService: config.NewHardCoded(), root: t.TempDir()}
	return NewDisk(cfg), cfg
}

func TestEnsureFolders(t *testing.T) {
	svc, cfg := newTestDisk(t)
	require.NoError(t, svc.EnsureFolders())
	require.NoError(t, svc.EnsureFolders())

	for _, dir := range []string{cfg.GetInputFolder(), cfg.GetOutputFolder(), cfg.GetSnapshotsFolder()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestPathsAreUniqueAndPlaced(t *testing.T) {
	svc, cfg := newTestDisk(t)
	ts := time.Date(2024, 5, 1, 13, 4, 5, 123e6, time.UTC)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		p := svc.SnapshotPath(ts)
		assert.False(t, seen[p], "duplicate %s", p)
		seen[p] = true
	}

	snap := svc.SnapshotPath(ts)
	assert.Equal(t, cfg.GetSnapshotsFolder(), filepath.Dir(snap))
	assert.True(t, strings.HasPrefix(filepath.Base(snap), "snapshot_20240501_130405_123_"))

	det := svc.DetectionPath(ts, "Coffee Mug")
	assert.Equal(t, cfg.GetOutputFolder(), filepath.Dir(det))
	assert.Contains(t, filepath.Base(det), "_coffee_mug_")
	assert.Equal(t, ".jpg", filepath.Ext(det))

	up := svc.UploadPath(ts, "/home/me/My Photo.png")
	assert.Equal(t, cfg.GetInputFolder(), filepath.Dir(up))
	assert.True(t, strings.HasSuffix(up, "_My_Photo.png"))
}

func TestSaveImageAndCopy(t *testing.T) {
	svc, cfg := newTestDisk(t)

	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})

	path := svc.SnapshotPath(time.Now())
	require.NoError(t, svc.SaveImage(path, img))

	f, err := os.Open(path)
	require.NoError(t, err)
	decoded, err := jpeg.Decode(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())

	_, err = os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(err))

	dst := svc.UploadPath(time.Now(), path)
	require.NoError(t, svc.CopyFile(path, dst))
	a, _ := os.ReadFile(path)
	b, _ := os.ReadFile(dst)
	assert.Equal(t, a, b)
	assert.Equal(t, cfg.GetInputFolder(), filepath.Dir(dst))

	assert.Error(t, svc.CopyFile(filepath.Join(cfg.root, "missing.jpg"), dst+"2"))
}
