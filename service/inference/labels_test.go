package inference

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLabels(t *testing.T) {
	dir := t.TempDir()

	labels, err := LoadLabels("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLabels, labels)

	txt := filepath.Join(dir, "classes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("Mug\n\nPen\n  Laptop \n"), 0o644))
	labels, err = LoadLabels(txt)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mug", "Pen", "Laptop"}, labels)

	list := filepath.Join(dir, "data.yaml")
	require.NoError(t, os.WriteFile(list, []byte("nc: 2\nnames: [Bin, Bottle]\n"), 0o644))
	labels, err = LoadLabels(list)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bin", "Bottle"}, labels)

	byIndex := filepath.Join(dir, "names.yml")
	require.NoError(t, os.WriteFile(byIndex, []byte("names:\n  1: Bottle\n  0: Bin\n"), 0o644))
	labels, err = LoadLabels(byIndex)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bin", "Bottle"}, labels)

	gap := filepath.Join(dir, "gap.yaml")
	require.NoError(t, os.WriteFile(gap, []byte("names:\n  0: Bin\n  2: Mug\n"), 0o644))
	_, err = LoadLabels(gap)
	assert.Error(t, err)

	_, err = LoadLabels(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

func TestPreprocessLayout(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 51, A: 255})
		}
	}

	out := Preprocess(img, 2, 2)
	require.Len(t, out, 12)
	for i := 0; i < 4; i++ {
		assert.InDelta(t, 1.0, out[i], 1e-2)
		assert.InDelta(t, 0.0, out[4+i], 1e-2)
		assert.InDelta(t, 0.2, out[8+i], 1e-2)
	}
}
