package mode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/pipeline"
	"github.com/khaledhikmat/vs-office/service/lgr"
	"golang.org/x/xerrors"
)

// Batch runs every supported image in a folder through the model. Only
// images with at least one detection are written to the output folder.
func Batch(canxCtx context.Context, svcs pipeline.ServicesFactory, _ pipeline.Opener, args []string) error {
	folder := svcs.CfgSvc.GetInputFolder()
	if len(args) > 0 {
		folder = args[0]
	}

	files, err := listImages(folder)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		lgr.Logger.Warn("no supported images found", slog.String("folder", folder))
		return nil
	}

	if err := svcs.StorageSvc.EnsureFolders(); err != nil {
		lgr.Logger.Warn("could not create folders", slog.Any("error", err))
	}
	if !svcs.InferenceSvc.Loaded() {
		if err := svcs.InferenceSvc.Load(); err != nil {
			return err
		}
	}

	sessionID := uuid.NewString()
	threshold := svcs.CfgSvc.GetConfidenceThreshold()

	var beginTime = time.Now().Unix()
	var frames = 0
	var detections = 0
	var saved = 0
	var errCount = 0
	var totalInferenceTime time.Duration

	defer func() {
		var avgProcTime float64
		if frames > 0 {
			avgProcTime = totalInferenceTime.Seconds() / float64(frames)
		}
		procStats(svcs.DataSvc, model.WorkerStats{
			Name:        "batch",
			Source:      folder,
			Frames:      frames,
			Detections:  detections,
			Errors:      errCount,
			Uptime:      time.Now().Unix() - beginTime,
			AvgProcTime: avgProcTime,
		})
	}()

	for i, path := range files {
		if canxCtx.Err() != nil {
			lgr.Logger.Info("batch mode context cancelled", slog.Int("processed", i))
			return nil
		}

		img, err := pipeline.LoadImage(path)
		if err != nil {
			errCount++
			procError(svcs.DataSvc, model.GenError("batch",
				xerrors.Errorf("%v: %w", err, model.ErrSourceUnavailable),
				map[string]interface{}{"path": path},
				"error loading image"))
			continue
		}

		frame := model.Frame{
			Seq:       uint64(i + 1),
			Image:     img,
			Timestamp: time.Now(),
			Kind:      model.SourceFile,
			Origin:    path,
		}

		start := time.Now()
		dets, err := svcs.InferenceSvc.Infer(frame, threshold)
		totalInferenceTime += time.Since(start)
		frames++
		if err != nil {
			errCount++
			procError(svcs.DataSvc, model.GenError("batch", err,
				map[string]interface{}{"path": path},
				"inference error, image skipped"))
			continue
		}

		af := pipeline.Render(frame, dets, threshold)
		best, found := af.Detections.Best()

		lgr.Logger.Info(fmt.Sprintf("processed %d/%d", i+1, len(files)),
			slog.String("file", filepath.Base(path)),
			slog.Int("detections", len(af.Detections)),
		)
		if !found {
			continue
		}
		detections += len(af.Detections)

		out := svcs.StorageSvc.DetectionPath(frame.Timestamp, best.Label)
		if err := svcs.StorageSvc.SaveImage(out, af.Rendered); err != nil {
			errCount++
			lgr.Logger.Warn("failed to save detection", slog.String("path", out), slog.Any("error", err))
			out = ""
		} else {
			saved++
		}

		if err := svcs.DataSvc.NewDetections(batchRecords(sessionID, af, out)); err != nil {
			lgr.Logger.Warn("failed to record detections", slog.Any("error", err))
		}
	}

	lgr.Logger.Info("batch complete",
		slog.String("folder", folder),
		slog.Int("images", len(files)),
		slog.Int("saved", saved),
		slog.Int("errors", errCount),
	)
	return nil
}

func listImages(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, xerrors.Errorf("error reading %s: %v: %w", folder, err, model.ErrSourceUnavailable)
	}

	files := []string{}
	for _, e := range entries {
		if e.IsDir() || !pipeline.IsImage(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(folder, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func batchRecords(sessionID string, af model.AnnotatedFrame, path string) []model.DetectionRecord {
	out := make([]model.DetectionRecord, 0, len(af.Detections))
	for _, d := range af.Detections {
		out = append(out, model.DetectionRecord{
			SessionID:  sessionID,
			Source:     af.Frame.Origin,
			Seq:        af.Frame.Seq,
			Label:      d.Label,
			Confidence: d.Confidence,
			X:          d.X,
			Y:          d.Y,
			Width:      d.Width,
			Height:     d.Height,
			Path:       path,
			Timestamp:  af.Frame.Timestamp.Unix(),
		})
	}
	return out
}
