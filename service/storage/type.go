package storage

import (
	"image"
	"time"
)

type IService interface {
	EnsureFolders() error
	SnapshotPath(ts time.Time) string
	DetectionPath(ts time.Time, label string) string
	UploadPath(ts time.Time, original string) string
	SaveImage(path string, img image.Image) error
	CopyFile(src, dst string) error
}
