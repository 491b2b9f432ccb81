package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/service/lgr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/xerrors"
)

var tracer = otel.Tracer("github.com/khaledhikmat/vs-office/pipeline")

// worker feeds frames to the model adapter one at a time. A failed frame is
// skipped; MaxInferenceFailures failures in a row end the session.
func (c *Controller) worker(s *session) {
	defer s.wg.Done()

	var beginTime = time.Now().Unix()
	var frames = 0
	var detections = 0
	var errCount = 0
	var totalInferenceTime time.Duration

	defer func() {
		var avgProcTime float64
		if frames > 0 {
			avgProcTime = totalInferenceTime.Seconds() / float64(frames)
		}
		s.report(s.statsStream, model.WorkerStats{
			Name:        "worker",
			Source:      s.src.Name(),
			Frames:      frames,
			Detections:  detections,
			Errors:      errCount,
			Uptime:      time.Now().Unix() - beginTime,
			AvgProcTime: avgProcTime,
		})
	}()

	consecutive := 0
	for {
		frame, err := s.frames.Pop(s.canx, s.cfg.PollInterval)
		switch {
		case err == nil:
		case errors.Is(err, model.ErrBufferEmpty):
			continue
		case errors.Is(err, model.ErrBufferClosed):
			s.results.Close()
			return
		default:
			lgr.Logger.Info("worker context cancelled", slog.String("session", s.id))
			return
		}

		// a frame popped while stopping is not submitted
		if s.canx.Err() != nil {
			return
		}

		startInference := time.Now()
		set, err := c.infer(s, frame)
		totalInferenceTime += time.Since(startInference)
		frames++

		if err != nil {
			errCount++
			consecutive++
			s.inferErrors.Add(1)
			s.detectionAvailable.Store(false)

			c.emit(model.LevelWarn, fmt.Sprintf("inference error, frame %d skipped", frame.Seq), err)
			s.report(s.errorStream, model.GenError("worker", err,
				map[string]interface{}{"seq": frame.Seq, "consecutive": consecutive},
				"inference error, frame skipped"))

			if consecutive >= s.cfg.MaxInferenceFailures {
				s.fatal(model.GenError("worker",
					xerrors.Errorf("%d consecutive inference failures: %w", consecutive, err),
					map[string]interface{}{"seq": frame.Seq},
					"model unusable, detection stopped"))
				return
			}
			continue
		}

		consecutive = 0
		s.detectionAvailable.Store(true)
		detections += len(set)
		_ = s.results.Push(model.Result{Frame: frame, Detections: set})
	}
}

func (c *Controller) infer(s *session, frame model.Frame) (model.DetectionSet, error) {
	_, span := tracer.Start(s.canx, "inference",
		trace.WithAttributes(
			attribute.Int64("frame.seq", int64(frame.Seq)),
			attribute.String("source", s.src.Name()),
		),
	)
	defer span.End()

	set, err := c.svcs.InferenceSvc.Infer(frame, s.cfg.ConfidenceThreshold)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inference failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("detections", len(set)))
	return set, nil
}
