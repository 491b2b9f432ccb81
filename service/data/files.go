package data

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/service/config"
	"github.com/natefinch/lumberjack"
	"golang.org/x/xerrors"
)

type filesDBService struct {
	CfgSvc config.IService

	mu         sync.Mutex
	detections *lumberjack.Logger
	errors     *lumberjack.Logger
	stats      *lumberjack.Logger
}

// NewFilesDB appends JSON lines to rotating files in the logs folder.
func NewFilesDB(cfgsvc config.IService) IService {
	dir := cfgsvc.GetLogsFolder()
	return &filesDBService{
		CfgSvc:     cfgsvc,
		detections: newRotating(filepath.Join(dir, "detections.log"), 10),
		errors:     newRotating(filepath.Join(dir, "errors.log"), 10),
		stats:      newRotating(filepath.Join(dir, "stats.log"), 10),
	}
}

func newRotating(filename string, maxSize int) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSize, // MB
		MaxBackups: 5,
		MaxAge:     7,    // days
		Compress:   true, // compress old logs
	}
}

func (svc *filesDBService) NewError(err interface{}) error {
	return svc.write(svc.errors, toErrorEntry(time.Now().Unix(), err))
}

func (svc *filesDBService) NewDetections(records []model.DetectionRecord) error {
	for _, r := range records {
		if r.Timestamp == 0 {
			r.Timestamp = time.Now().Unix()
		}
		if err := svc.write(svc.detections, r); err != nil {
			return err
		}
	}
	return nil
}

func (svc *filesDBService) NewFramerStats(stats model.FramerStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.write(svc.stats, statsEntry{Kind: "framer", Stats: stats})
}

func (svc *filesDBService) NewWorkerStats(stats model.WorkerStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.write(svc.stats, statsEntry{Kind: "worker", Stats: stats})
}

func (svc *filesDBService) NewPersisterStats(stats model.PersisterStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.write(svc.stats, statsEntry{Kind: "persister", Stats: stats})
}

// RetrieveDetections returns up to limit of the most recent records from
// the active detections file; rotated backups are not read.
func (svc *filesDBService) RetrieveDetections(limit int) ([]model.DetectionRecord, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	records := []model.DetectionRecord{}
	file, err := os.Open(svc.detections.Filename)
	if err != nil {
		if os.IsNotExist(err) {
			// WARNING: nothing recorded yet
			return records, nil
		}
		return nil, xerrors.Errorf("error opening detections: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var r model.DetectionRecord
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Errorf("error reading detections: %w", err)
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

func (svc *filesDBService) Close() error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	var firstErr error
	for _, l := range []*lumberjack.Logger{svc.detections, svc.errors, svc.stats} {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type statsEntry struct {
	Kind  string      `json:"kind"`
	Stats interface{} `json:"stats"`
}

func (svc *filesDBService) write(l *lumberjack.Logger, v interface{}) error {
	line, err := json.Marshal(v)
	if err != nil {
		return xerrors.Errorf("error marshaling entry: %w", err)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	if _, err := l.Write(append(line, '\n')); err != nil {
		return xerrors.Errorf("error writing %s: %w", l.Filename, err)
	}
	return nil
}
