package pipeline

import (
	"context"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/service/data"
	"github.com/khaledhikmat/vs-office/service/lgr"
	"github.com/khaledhikmat/vs-office/service/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/xerrors"
)

// VideoExtensions are accepted for upload next to ImageExtensions.
var VideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv"}

func IsVideo(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range VideoExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

type jobKind int

const (
	jobImage jobKind = iota
	jobRecords
)

type persistJob struct {
	kind    jobKind
	what    string
	path    string
	img     image.Image
	records []model.DetectionRecord
}

// Persister writes snapshots, annotated detections and detection records
// on its own goroutine. Requests never block the caller: when the queue is
// full the request is dropped and reported as a warning.
type Persister struct {
	storageSvc storage.IService
	dataSvc    data.IService
	emit       func(level model.Level, msg string, err error)

	mu     sync.RWMutex
	closed bool
	jobs   chan persistJob
	wg     sync.WaitGroup

	startTime int64
	saved     atomic.Int64
	dropped   atomic.Int64
	errCount  atomic.Int64
}

func NewPersister(storageSvc storage.IService, dataSvc data.IService, queueSize int, emit func(model.Level, string, error)) *Persister {
	if emit == nil {
		emit = func(model.Level, string, error) {}
	}
	p := &Persister{
		storageSvc: storageSvc,
		dataSvc:    dataSvc,
		emit:       emit,
		jobs:       make(chan persistJob, queueSize),
		startTime:  time.Now().Unix(),
	}

	p.wg.Add(1)
	go p.run()
	return p
}

// Snapshot queues the raw frame for the snapshots folder and returns the
// path it will be written to.
func (p *Persister) Snapshot(frame model.Frame) (string, error) {
	if frame.Empty() {
		return "", model.ErrNoFrame
	}
	path := p.storageSvc.SnapshotPath(frame.Timestamp)
	return path, p.enqueue(persistJob{kind: jobImage, what: "snapshot", path: path, img: frame.Image})
}

// SaveDetection queues the rendered frame for the output folder. An empty
// label names the file after the best detection.
func (p *Persister) SaveDetection(af model.AnnotatedFrame, label string) (string, error) {
	if af.Rendered == nil {
		return "", model.ErrNoFrame
	}
	if label == "" {
		label = "none"
		if best, ok := af.Detections.Best(); ok {
			label = best.Label
		}
	}
	path := p.storageSvc.DetectionPath(af.Frame.Timestamp, label)
	return path, p.enqueue(persistJob{kind: jobImage, what: "detection", path: path, img: af.Rendered})
}

// Record queues detection records for the data service.
func (p *Persister) Record(records []model.DetectionRecord) error {
	if len(records) == 0 {
		return nil
	}
	return p.enqueue(persistJob{kind: jobRecords, what: "records", records: records})
}

// AcceptUpload copies a user file into the input folder and returns the
// copy's path. It runs synchronously, before the file becomes a source.
func (p *Persister) AcceptUpload(src string) (string, error) {
	if !IsImage(src) && !IsVideo(src) {
		return "", xerrors.Errorf("unsupported upload %s: %w", src, model.ErrInvalidConfig)
	}
	if _, err := os.Stat(src); err != nil {
		return "", xerrors.Errorf("upload %s: %v: %w", src, err, model.ErrSourceUnavailable)
	}

	if err := p.storageSvc.EnsureFolders(); err != nil {
		p.emit(model.LevelWarn, "could not create folders", err)
	}

	dst := p.storageSvc.UploadPath(time.Now(), src)
	if err := p.storageSvc.CopyFile(src, dst); err != nil {
		p.errCount.Add(1)
		return "", xerrors.Errorf("%v: %w", err, model.ErrPersistence)
	}

	p.emit(model.LevelInfo, "upload saved to "+dst, nil)
	return dst, nil
}

func (p *Persister) enqueue(job persistJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return xerrors.Errorf("persister closed: %w", model.ErrPersistence)
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		p.dropped.Add(1)
		err := xerrors.Errorf("queue full, %s dropped: %w", job.what, model.ErrPersistence)
		p.emit(model.LevelWarn, "persistence queue full, "+job.what+" dropped", err)
		return err
	}
}

func (p *Persister) run() {
	defer p.wg.Done()

	for job := range p.jobs {
		p.handle(job)
	}
}

func (p *Persister) handle(job persistJob) {
	_, span := tracer.Start(context.Background(), "persist."+job.what,
		trace.WithAttributes(attribute.String("path", job.path)),
	)
	defer span.End()

	var err error
	switch job.kind {
	case jobImage:
		err = p.storageSvc.SaveImage(job.path, job.img)
	case jobRecords:
		err = p.dataSvc.NewDetections(job.records)
	}

	if err != nil {
		p.errCount.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		p.emit(model.LevelWarn, "failed to save "+job.what, xerrors.Errorf("%v: %w", err, model.ErrPersistence))
		return
	}

	if job.kind == jobImage {
		p.saved.Add(1)
		p.emit(model.LevelInfo, job.what+" saved to "+job.path, nil)
	}
}

// Close finishes queued writes and stops the background goroutine.
func (p *Persister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()

	if err := p.dataSvc.NewPersisterStats(p.Stats()); err != nil {
		lgr.Logger.Error("failed to store persister stats", slog.Any("error", err))
	}
}

func (p *Persister) Stats() model.PersisterStats {
	return model.PersisterStats{
		Name:    "persister",
		Saved:   int(p.saved.Load()),
		Dropped: int(p.dropped.Load()),
		Errors:  int(p.errCount.Load()),
		Uptime:  time.Now().Unix() - p.startTime,
	}
}
