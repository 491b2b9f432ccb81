package mode

import (
	"context"
	"log/slog"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/pipeline"
	"github.com/khaledhikmat/vs-office/service/data"
	"github.com/khaledhikmat/vs-office/service/lgr"
)

// Processor runs one CLI mode until it finishes or canxCtx is cancelled.
// args are the command line arguments after the mode name.
type Processor func(canxCtx context.Context,
	svcs pipeline.ServicesFactory,
	opener pipeline.Opener,
	args []string) error

func procStats(datasvc data.IService, stats interface{}) {
	var err error
	switch stats := stats.(type) {
	case model.FramerStats:
		err = datasvc.NewFramerStats(stats)
	case model.WorkerStats:
		err = datasvc.NewWorkerStats(stats)
	case model.PersisterStats:
		err = datasvc.NewPersisterStats(stats)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
		return
	}

	if err != nil {
		lgr.Logger.Error(
			"failed to store stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procError(datasvc data.IService, err interface{}) {
	errTemp := datasvc.NewError(err)
	if errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			slog.Any("error", errTemp),
		)
	}
}
