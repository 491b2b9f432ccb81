package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/service/lgr"
	"golang.org/x/xerrors"
)

// framer owns the source for the session: it reads frames into the frame
// buffer, retries transient read errors with backoff and closes the source
// when it exits.
func (c *Controller) framer(s *session) {
	defer close(s.framerDone)
	defer func() {
		if err := s.src.Close(); err != nil {
			lgr.Logger.Warn("error closing source", slog.String("source", s.src.Name()), slog.Any("error", err))
		}
	}()

	var startTime = time.Now().Unix()
	var frames = 0
	var errCount = 0
	var retries = 0

	defer func() {
		uptime := time.Now().Unix() - startTime
		fps := 0
		if uptime > 0 {
			fps = int(float64(frames) / float64(uptime))
		}
		s.report(s.statsStream, model.FramerStats{
			Name:    "framer",
			Source:  s.src.Name(),
			Frames:  frames,
			Dropped: int(s.frames.Dropped()),
			Errors:  errCount,
			Retries: retries,
			Uptime:  uptime,
			FPS:     fps,
		})
	}()

	attempt := 0
	for {
		select {
		case <-s.canx.Done():
			lgr.Logger.Info(
				"framer context cancelled",
				slog.String("session", s.id),
			)
			return
		default:
		}

		frame, err := s.src.ReadNext(s.canx)
		switch {
		case err == nil:
			attempt = 0
			frames++
			s.captured.Add(1)
			s.lastRaw.Store(&frame)
			if err := s.frames.Push(frame); err != nil {
				return
			}

		case errors.Is(err, model.ErrEndOfStream):
			lgr.Logger.Info("framer reached end of stream",
				slog.String("source", s.src.Name()),
				slog.Int("frames", frames),
			)
			s.frames.Close()
			return

		case errors.Is(err, model.ErrNoFrame):
			// read timed out, the display keeps the last good frame

		case s.canx.Err() != nil:
			return

		default:
			errCount++
			attempt++
			delay, ok := s.cfg.Retry.Next(attempt)
			if !ok {
				s.fatal(model.GenError("framer",
					xerrors.Errorf("source %s dead after %d retries: %v: %w", s.src.Name(), attempt-1, err, model.ErrSourceRead),
					map[string]interface{}{"source": s.src.Name()},
					"source disconnected"))
				return
			}

			retries++
			c.emit(model.LevelWarn, fmt.Sprintf("source read error, retry %d in %s", attempt, delay), err)
			s.report(s.errorStream, model.GenError("framer", err,
				map[string]interface{}{"attempt": attempt, "delay": delay.String()},
				"source read error"))

			select {
			case <-time.After(delay):
			case <-s.canx.Done():
				return
			}
		}
	}
}
