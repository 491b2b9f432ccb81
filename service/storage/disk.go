package storage

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/khaledhikmat/vs-office/service/config"
	"golang.org/x/xerrors"
)

const (
	tsLayout    = "20060102_150405.000"
	jpegQuality = 90
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type diskService struct {
	CfgSvc config.IService
}

// NewDisk stores images under the configured input, output and snapshots folders.
func NewDisk(cfgsvc config.IService) IService {
	return &diskService{
		CfgSvc: cfgsvc,
	}
}

func (svc *diskService) EnsureFolders() error {
	for _, dir := range []string{
		svc.CfgSvc.GetInputFolder(),
		svc.CfgSvc.GetOutputFolder(),
		svc.CfgSvc.GetSnapshotsFolder(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return xerrors.Errorf("error creating folder %s: %w", dir, err)
		}
	}
	return nil
}

func (svc *diskService) SnapshotPath(ts time.Time) string {
	return filepath.Join(svc.CfgSvc.GetSnapshotsFolder(),
		fmt.Sprintf("snapshot_%s_%s.jpg", stamp(ts), shortID()))
}

func (svc *diskService) DetectionPath(ts time.Time, label string) string {
	return filepath.Join(svc.CfgSvc.GetOutputFolder(),
		fmt.Sprintf("detected_%s_%s_%s.jpg", stamp(ts), sanitize(strings.ToLower(label)), shortID()))
}

func (svc *diskService) UploadPath(ts time.Time, original string) string {
	return filepath.Join(svc.CfgSvc.GetInputFolder(),
		fmt.Sprintf("upload_%s_%s_%s", stamp(ts), shortID(), sanitize(filepath.Base(original))))
}

// SaveImage encodes img by the path extension (png, otherwise jpeg). The
// file is written under a temporary name and renamed so readers never see
// a partial image.
func (svc *diskService) SaveImage(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Errorf("error creating folder for %s: %w", path, err)
	}

	tmp := path + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return xerrors.Errorf("error creating %s: %w", tmp, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".png") {
		err = png.Encode(file, img)
	} else {
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: jpegQuality})
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return xerrors.Errorf("error encoding %s: %w", path, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return xerrors.Errorf("error renaming %s: %w", tmp, err)
	}
	return nil
}

func (svc *diskService) CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return xerrors.Errorf("error opening %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return xerrors.Errorf("error creating folder for %s: %w", dst, err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return xerrors.Errorf("error creating %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return xerrors.Errorf("error copying %s: %w", src, err)
	}
	return out.Close()
}

func stamp(ts time.Time) string {
	return strings.Replace(ts.Format(tsLayout), ".", "_", 1)
}

func shortID() string {
	return uuid.NewString()[:8]
}

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}
