package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/khaledhikmat/vs-office/model"
)

// presenter renders results for display, keeps the latest frame, and hands
// detections and auto-saves to the persister without waiting on disk.
func (c *Controller) presenter(s *session) {
	defer s.wg.Done()

	saver := newAutoSaver(s.cfg.AutoSave, s.cfg.AutoSaveCooldown)
	var lastLog time.Time
	first := true

	for {
		res, err := s.results.Pop(s.canx, s.cfg.PollInterval)
		switch {
		case err == nil:
		case errors.Is(err, model.ErrBufferEmpty):
			continue
		case errors.Is(err, model.ErrBufferClosed):
			close(s.finished)
			return
		default:
			return
		}

		af := Render(res.Frame, res.Detections, s.cfg.ConfidenceThreshold)
		if s.canx.Err() != nil {
			return
		}

		_ = c.display.Push(af)
		c.latest.Store(&af)
		s.inferred.Add(1)

		if first {
			first = false
			c.markRunning(s)
		}

		if len(af.Detections) == 0 {
			continue
		}

		now := time.Now()
		if now.Sub(lastLog) >= s.cfg.LogInterval {
			lastLog = now
			c.emit(model.LevelInfo, describe(af.Detections), nil)
		}

		path := ""
		if label, ok := saver.ShouldSave(af.Detections, now); ok {
			// a full queue is already reported as a warning
			path, _ = c.persister.SaveDetection(af, label)
		}
		_ = c.persister.Record(records(s, af, path))
	}
}

func describe(dets model.DetectionSet) string {
	parts := make([]string, 0, len(dets))
	for _, d := range dets {
		parts = append(parts, fmt.Sprintf("%s (%.2f, %s)", d.Label, d.Confidence, d.Band()))
	}
	return "detected " + strings.Join(parts, ", ")
}

func records(s *session, af model.AnnotatedFrame, path string) []model.DetectionRecord {
	out := make([]model.DetectionRecord, 0, len(af.Detections))
	for _, d := range af.Detections {
		out = append(out, model.DetectionRecord{
			SessionID:  s.id,
			Source:     s.src.Name(),
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
