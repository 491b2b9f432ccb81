package data

import "github.com/khaledhikmat/vs-office/model"

type IService interface {
	NewError(err interface{}) error
	NewDetections(records []model.DetectionRecord) error
	NewFramerStats(stats model.FramerStats) error
	NewWorkerStats(stats model.WorkerStats) error
	NewPersisterStats(stats model.PersisterStats) error
	RetrieveDetections(limit int) ([]model.DetectionRecord, error)
	Close() error
}

type errorEntry struct {
	Timestamp  int64                  `json:"timestamp"`
	Processor  string                 `json:"processor"`
	Inner      string                 `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func toErrorEntry(ts int64, err interface{}) errorEntry {
	entry := errorEntry{
		Timestamp:  ts,
		Processor:  "N/A",
		StackTrace: "N/A",
	}

	switch e := err.(type) {
	case model.CustomError:
		entry.Processor = e.Processor
		entry.Message = e.Message
		entry.StackTrace = e.StackTrace
		entry.Misc = e.Misc
		if e.Inner != nil {
			entry.Inner = e.Inner.Error()
		}
	case error:
		entry.Inner = e.Error()
		entry.Message = e.Error()
	default:
		entry.Message = "unknown error"
	}

	return entry
}
