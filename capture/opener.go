// Package capture provides the gocv-backed camera and video sources.
package capture

import (
	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/pipeline"
)

// Opener picks a source for sel: a capture device for cameras, a video
// decoder for video files and the still-image source for everything else.
func Opener(sel model.SourceSelector, cfg pipeline.Config) (pipeline.Source, error) {
	switch {
	case sel.Kind == model.SourceCamera:
		return NewCamera(sel.CameraIndex, cfg), nil
	case pipeline.IsVideo(sel.Path):
		return NewVideo(sel.Path), nil
	default:
		return pipeline.StillOpener(sel, cfg)
	}
}
