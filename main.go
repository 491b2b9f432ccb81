package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-office/capture"
	"github.com/khaledhikmat/vs-office/mode"
	"github.com/khaledhikmat/vs-office/pipeline"
	"github.com/khaledhikmat/vs-office/service/config"
	"github.com/khaledhikmat/vs-office/service/data"
	"github.com/khaledhikmat/vs-office/service/inference"
	"github.com/khaledhikmat/vs-office/service/inference/gocvnet"
	"github.com/khaledhikmat/vs-office/service/inference/ortnet"
	"github.com/khaledhikmat/vs-office/service/lgr"
	"github.com/khaledhikmat/vs-office/service/storage"
)

const (
	// WARNING: this has to be bigger that the mode processor shutdown time
	waitOnShutdown = 8 * time.Second
)

var modeProcessors = map[string]mode.Processor{
	"live":    mode.Live,
	"batch":   mode.Batch,
	"monitor": mode.Monitor,
}

func main() {
	rootCtx := context.Background()
	canxCtx, canxFn := context.WithCancel(rootCtx)

	// Hook up a signal handler to cancel the context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lgr.Logger.Info(
			"received kill signal",
			slog.Any("signal", sig),
		)
		canxFn()
	}()

	// Load env vars if we are in DEV mode
	if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
		if err := godotenv.Load(); err != nil {
			lgr.Logger.Debug("no .env file loaded", slog.Any("error", xerrors.New(err.Error())))
		}
	}

	modeType := "live"
	args := os.Args[1:]
	if len(args) > 0 {
		modeType = args[0]
		args = args[1:]
	}

	modeProc, ok := modeProcessors[modeType]
	if !ok {
		lgr.Logger.Error("invalid mode", slog.String("mode", modeType))
		os.Exit(2)
	}

	// Config service
	configPath := os.Getenv("VSO_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfgSvc, err := config.NewYAML(configPath)
	if err != nil {
		lgr.Logger.Error("invalid configuration", slog.Any("error", err))
		os.Exit(2)
	}
	lgr.Level.Set(lgr.ParseLevel(cfgSvc.GetLogLevel()))

	svcs, err := newServices(cfgSvc)
	if err != nil {
		lgr.Logger.Error("error creating services", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := svcs.InferenceSvc.Close(); err != nil {
			lgr.Logger.Warn("error closing model", slog.Any("error", err))
		}
		if err := svcs.DataSvc.Close(); err != nil {
			lgr.Logger.Warn("error closing data store", slog.Any("error", err))
		}
	}()

	// Create mode processor result
	modeProcResult := make(chan error, 1)

	// Start the mode processor
	go func() {
		modeProcResult <- modeProc(canxCtx, svcs, capture.Opener, args)
	}()

	// Wait for cancellation or the mode processor
	select {
	case <-canxCtx.Done():
		lgr.Logger.Info(
			"context cancelled",
			slog.String("mode", modeType),
		)

	case err := <-modeProcResult:
		report(modeType, err)
		canxFn()
		return
	}

	// The mode processor gets `waitOnShutdown` to release the camera and
	// flush pending writes
	lgr.Logger.Info(
		"waiting for the mode processor to exit",
	)

	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	select {
	case <-timer.C:
		lgr.Logger.Info(
			"shutdown waiting period expired. Exiting now",
			slog.Duration("period", waitOnShutdown),
		)

	case err := <-modeProcResult:
		report(modeType, err)
	}
}

func report(modeType string, err error) {
	switch {
	case err == nil:
		lgr.Logger.Info("mode processor exited", slog.String("mode", modeType))
	case mode.IsFault(err):
		lgr.Logger.Error("session faulted", slog.String("mode", modeType), slog.Any("error", err))
	default:
		lgr.Logger.Error("mode processor failed", slog.String("mode", modeType), slog.Any("error", err))
	}
}

func newServices(cfgSvc config.IService) (pipeline.ServicesFactory, error) {
	// Data service
	var dataSvc data.IService
	switch cfgSvc.GetDataStore() {
	case config.StoreSqlite:
		sqlite, err := data.NewSqlite(cfgSvc)
		if err != nil {
			return pipeline.ServicesFactory{}, err
		}
		dataSvc = sqlite
	default:
		dataSvc = data.NewFilesDB(cfgSvc)
	}

	// Inference service
	labels, err := inference.LoadLabels(cfgSvc.GetLabelsPath())
	if err != nil {
		return pipeline.ServicesFactory{}, err
	}

	size := cfgSvc.GetModelInputSize()
	backend := cfgSvc.GetModelBackend()
	if _, err := os.Stat(cfgSvc.GetModelPath()); err != nil && backend != config.BackendMock {
		lgr.Logger.Warn("model weights not found, falling back to the mock backend",
			slog.String("path", cfgSvc.GetModelPath()),
		)
		backend = config.BackendMock
	}

	var loader inference.Loader
	switch backend {
	case config.BackendOnnx:
		loader = ortnet.NewLoader(cfgSvc.GetOnnxRuntimeLibrary(), size, len(labels))
	case config.BackendMock:
		lgr.Logger.Warn("using the mock model backend, detections are simulated")
		loader = inference.NewMockLoader(len(labels), size, inference.DefaultMockBoxes...)
	default:
		loader = gocvnet.NewLoader(size)
	}

	opts := inference.DefaultOptions()
	opts.WarmupSize = size
	inferenceSvc := inference.New(cfgSvc.GetModelPath(), labels, loader, opts)

	return pipeline.ServicesFactory{
		CfgSvc:       cfgSvc,
		DataSvc:      dataSvc,
		StorageSvc:   storage.NewDisk(cfgSvc),
		InferenceSvc: inferenceSvc,
	}, nil
}
