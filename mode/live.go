package mode

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/pipeline"
	"github.com/khaledhikmat/vs-office/service/lgr"
)

const statusPeriod = 5 * time.Second

// Live runs one detection session on a camera or a file and stays up
// until the session ends or the context is cancelled. SIGUSR1 takes a
// snapshot and SIGUSR2 saves the current annotated frame.
func Live(canxCtx context.Context, svcs pipeline.ServicesFactory, opener pipeline.Opener, args []string) error {
	source := svcs.CfgSvc.GetSource()
	if len(args) > 0 {
		source = args[0]
	}

	sel, err := model.ParseSourceSelector(source)
	if err != nil {
		return err
	}

	ctrl := pipeline.NewController(svcs, opener)
	cfg := pipeline.NewConfig(svcs.CfgSvc, sel)

	userChan := make(chan os.Signal, 1)
	signal.Notify(userChan, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(userChan)

	if sel.Kind == model.SourceFile {
		err = ctrl.StartUpload(canxCtx, sel.Path, cfg)
	} else {
		err = ctrl.Start(canxCtx, cfg)
	}
	if err != nil {
		_ = ctrl.Close()
		return err
	}

	ticker := time.NewTicker(statusPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"live mode context cancelled",
			)
			goto resume

		case e := <-ctrl.Events():
			if e.State == model.StateIdle || e.State == model.StateFaulted {
				goto resume
			}

		case sig := <-userChan:
			var path string
			var err error
			if sig == syscall.SIGUSR1 {
				path, err = ctrl.Snapshot()
			} else {
				path, err = ctrl.SaveDetection()
			}
			if err != nil {
				lgr.Logger.Warn("user save failed", slog.Any("signal", sig), slog.Any("error", err))
				continue
			}
			lgr.Logger.Info("user save queued", slog.Any("signal", sig), slog.String("path", path))

		case <-ticker.C:
			st := ctrl.Session()
			lgr.Logger.Info("session status",
				slog.String("state", string(st.State)),
				slog.Uint64("captured", st.FramesCaptured),
				slog.Uint64("inferred", st.FramesInferred),
				slog.Uint64("dropped", st.FramesDropped),
				slog.Bool("detectionAvailable", st.DetectionAvailable),
			)
		}
	}

	// Stop the controller but never wait longer than the mode shutdown time
resume:
	lgr.Logger.Info(
		"live mode is waiting for the session to release its resources",
	)

	closed := make(chan error, 1)
	go func() {
		closed <- ctrl.Close()
	}()

	period := time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime()) * time.Second
	timer := time.NewTimer(period)
	defer timer.Stop()

	select {
	case <-timer.C:
		lgr.Logger.Info(
			"live mode shutdown waiting period expired. Exiting now",
			slog.Duration("period", period),
		)
		return nil

	case err := <-closed:
		if err != nil {
			return err
		}
	}

	st := ctrl.Session()
	lgr.Logger.Info("session ended",
		slog.String("state", string(st.State)),
		slog.Uint64("captured", st.FramesCaptured),
		slog.Uint64("inferred", st.FramesInferred),
		slog.Uint64("inferenceErrors", st.InferenceErrors),
	)

	if st.State == model.StateFaulted && st.LastError != nil {
		return st.LastError
	}
	if af, ok := ctrl.Latest(); ok && len(af.Detections) > 0 {
		best, _ := af.Detections.Best()
		lgr.Logger.Info("last detection", slog.String("label", best.Label), slog.String("band", best.Band()))
	}
	return nil
}

// IsFault reports whether err ended a session rather than the process.
func IsFault(err error) bool {
	return errors.Is(err, model.ErrSourceUnavailable) ||
		errors.Is(err, model.ErrSourceRead) ||
		errors.Is(err, model.ErrModelLoad) ||
		errors.Is(err, model.ErrInference)
}
