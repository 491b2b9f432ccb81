package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/service/config"
	"golang.org/x/xerrors"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS detections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	source TEXT NOT NULL,
	seq INTEGER NOT NULL,
	label TEXT NOT NULL,
	confidence REAL NOT NULL,
	x INTEGER NOT NULL,
	y INTEGER NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	path TEXT,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_detections_label ON detections(label);
CREATE TABLE IF NOT EXISTS errors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	processor TEXT NOT NULL,
	inner_error TEXT,
	message TEXT,
	stack_trace TEXT
);
CREATE TABLE IF NOT EXISTS stats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	payload TEXT NOT NULL,
	timestamp INTEGER NOT NULL
);
`

type sqliteService struct {
	CfgSvc config.IService
	db     *sql.DB
}

// NewSqlite opens (or creates) detections.db in the logs folder.
func NewSqlite(cfgsvc config.IService) (IService, error) {
	dir := cfgsvc.GetLogsFolder()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Errorf("failed to create %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "detections.db")+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, xerrors.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, xerrors.Errorf("failed to initialize schema: %w", err)
	}

	return &sqliteService{
		CfgSvc: cfgsvc,
		db:     db,
	}, nil
}

func (svc *sqliteService) NewError(err interface{}) error {
	e := toErrorEntry(time.Now().Unix(), err)
	_, dbErr := svc.db.Exec(
		`INSERT INTO errors (timestamp, processor, inner_error, message, stack_trace) VALUES (?, ?, ?, ?, ?)`,
		e.Timestamp, e.Processor, e.Inner, e.Message, e.StackTrace)
	if dbErr != nil {
		return xerrors.Errorf("error inserting error: %w", dbErr)
	}
	return nil
}

func (svc *sqliteService) NewDetections(records []model.DetectionRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := svc.db.Begin()
	if err != nil {
		return xerrors.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT INTO detections
		(session_id, source, seq, label, confidence, x, y, width, height, path, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return xerrors.Errorf("error preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if r.Timestamp == 0 {
			r.Timestamp = time.Now().Unix()
		}
		if _, err := stmt.Exec(r.SessionID, r.Source, int64(r.Seq), r.Label, r.Confidence,
			r.X, r.Y, r.Width, r.Height, r.Path, r.Timestamp); err != nil {
			return xerrors.Errorf("error inserting detection: %w", err)
		}
	}

	return tx.Commit()
}

func (svc *sqliteService) NewFramerStats(stats model.FramerStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.newStats("framer", stats, stats.Timestamp)
}

func (svc *sqliteService) NewWorkerStats(stats model.WorkerStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.newStats("worker", stats, stats.Timestamp)
}

func (svc *sqliteService) NewPersisterStats(stats model.PersisterStats) error {
	stats.Timestamp = time.Now().Unix()
	return svc.newStats("persister", stats, stats.Timestamp)
}

func (svc *sqliteService) newStats(kind string, stats interface{}, ts int64) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return xerrors.Errorf("error marshaling %s stats: %w", kind, err)
	}
	if _, err := svc.db.Exec(`INSERT INTO stats (kind, payload, timestamp) VALUES (?, ?, ?)`,
		kind, string(payload), ts); err != nil {
		return xerrors.Errorf("error inserting %s stats: %w", kind, err)
	}
	return nil
}

func (svc *sqliteService) RetrieveDetections(limit int) ([]model.DetectionRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := svc.db.Query(`SELECT session_id, source, seq, label, confidence, x, y, width, height, COALESCE(path, ''), timestamp
		FROM (SELECT * FROM detections ORDER BY id DESC LIMIT ?) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, xerrors.Errorf("error querying detections: %w", err)
	}
	defer rows.Close()

	records := []model.DetectionRecord{}
	for rows.Next() {
		var r model.DetectionRecord
		var seq int64
		if err := rows.Scan(&r.SessionID, &r.Source, &seq, &r.Label, &r.Confidence,
			&r.X, &r.Y, &r.Width, &r.Height, &r.Path, &r.Timestamp); err != nil {
			return nil, xerrors.Errorf("error scanning detection: %w", err)
		}
		r.Seq = uint64(seq)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (svc *sqliteService) Close() error {
	return svc.db.Close()
}
