package pipeline

import (
	"context"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	_ "golang.org/x/image/bmp"  // register decoder
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
	"golang.org/x/xerrors"
)

// ImageExtensions are the still formats accepted for upload and batch runs.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff", ".tif", ".webp"}

func IsImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ImageExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// ToRGBA returns img as an RGBA image anchored at the origin, copying only
// when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}

// LoadImage decodes a still image from disk.
func LoadImage(path string) (*image.RGBA, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, xerrors.Errorf("error decoding %s: %w", path, err)
	}
	return ToRGBA(img), nil
}

type imageSource struct {
	path string

	mu     sync.Mutex
	img    *image.RGBA
	served bool
	closed bool
}

// NewImageSource yields the still image at path exactly once, then
// ErrEndOfStream.
func NewImageSource(path string) Source {
	return &imageSource{path: path}
}

func (s *imageSource) Open(_ context.Context) error {
	img, err := LoadImage(s.path)
	if err != nil {
		return xerrors.Errorf("%s: %v: %w", s.path, err, model.ErrSourceUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = img
	return nil
}

func (s *imageSource) ReadNext(canx context.Context) (model.Frame, error) {
	if err := canx.Err(); err != nil {
		return model.Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.served {
		return model.Frame{}, model.ErrEndOfStream
	}
	if s.img == nil {
		return model.Frame{}, xerrors.Errorf("%s not open: %w", s.path, model.ErrSourceRead)
	}

	s.served = true
	return model.Frame{
		Seq:       1,
		Image:     s.img,
		Timestamp: time.Now(),
		Kind:      model.SourceFile,
		Origin:    s.path,
	}, nil
}

func (s *imageSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.img = nil
	return nil
}

func (s *imageSource) Kind() model.SourceKind {
	return model.SourceFile
}

func (s *imageSource) Name() string {
	return s.path
}

// StillOpener handles file selectors that point at still images and
// rejects everything else. Other openers fall back to it.
func StillOpener(sel model.SourceSelector, _ Config) (Source, error) {
	if sel.Kind == model.SourceFile && IsImage(sel.Path) {
		return NewImageSource(sel.Path), nil
	}
	return nil, xerrors.Errorf("no source for %s: %w", sel, model.ErrSourceUnavailable)
}
