package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageSourceYieldsOnce(t *testing.T) {
	img := testImage(32, 24)
	path := writePNG(t, t.TempDir(), "mug.png", img)

	src := NewImageSource(path)
	require.NoError(t, src.Open(context.Background()))
	assert.Equal(t, model.SourceFile, src.Kind())
	assert.Equal(t, path, src.Name())

	frame, err := src.ReadNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), frame.Seq)
	assert.Equal(t, img.Pix, frame.Image.Pix)

	_, err = src.ReadNext(context.Background())
	assert.ErrorIs(t, err, model.ErrEndOfStream)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	_, err = src.ReadNext(context.Background())
	assert.ErrorIs(t, err, model.ErrEndOfStream)
}

func TestImageSourceUnavailable(t *testing.T) {
	dir := t.TempDir()

	src := NewImageSource(filepath.Join(dir, "missing.png"))
	assert.ErrorIs(t, src.Open(context.Background()), model.ErrSourceUnavailable)
	assert.NoError(t, src.Close())

	corrupt := filepath.Join(dir, "corrupt.jpg")
	require.NoError(t, os.WriteFile(corrupt, []byte("not an image"), 0o644))
	src = NewImageSource(corrupt)
	assert.ErrorIs(t, src.Open(context.Background()), model.ErrSourceUnavailable)
	assert.NoError(t, src.Close())
}

func TestStillOpener(t *testing.T) {
	src, err := StillOpener(model.SourceSelector{Kind: model.SourceFile, Path: "a/b.JPG"}, Config{})
	require.NoError(t, err)
	assert.Equal(t, "a/b.JPG", src.Name())

	_, err = StillOpener(model.SourceSelector{Kind: model.SourceCamera}, Config{})
	assert.ErrorIs(t, err, model.ErrSourceUnavailable)

	_, err = StillOpener(model.SourceSelector{Kind: model.SourceFile, Path: "clip.mp4"}, Config{})
	assert.ErrorIs(t, err, model.ErrSourceUnavailable)
}

func TestExtensions(t *testing.T) {
	assert.True(t, IsImage("x.webp"))
	assert.True(t, IsImage("x.TIF"))
	assert.False(t, IsImage("x.gif"))
	assert.True(t, IsVideo("x.MP4"))
	assert.False(t, IsVideo("x.png"))
}
