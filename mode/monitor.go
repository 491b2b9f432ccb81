package mode

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/khaledhikmat/vs-office/model"
	"github.com/khaledhikmat/vs-office/pipeline"
	"github.com/khaledhikmat/vs-office/service/lgr"
)

const monitorWindow = 50

type labelCount struct {
	Label string
	Count int
	Best  float32
}

// Monitor periodically reports what the recent sessions detected, read
// back from the data store.
func Monitor(canxCtx context.Context, svcs pipeline.ServicesFactory, _ pipeline.Opener, _ []string) error {
	// Create an error stream
	errorStream := make(chan interface{}, 1)

	period := svcs.CfgSvc.GetMonitorPeriod()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"monitor context cancelled",
			)
			return nil

		case <-timer.C:
			timer.Reset(period)

			records, err := svcs.DataSvc.RetrieveDetections(monitorWindow)
			if err != nil {
				select {
				case errorStream <- model.GenError("monitor",
					err,
					map[string]interface{}{},
					"error retrieving detections"):
				default:
				}
				continue
			}

			counts := summarize(records)
			if len(counts) == 0 {
				lgr.Logger.Info("no detections recorded yet")
				continue
			}
			for _, c := range counts {
				lgr.Logger.Info("recent detections",
					slog.String("label", c.Label),
					slog.Int("count", c.Count),
					slog.Float64("best", float64(c.Best)),
				)
			}

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}
}

// summarize groups records by label, most frequent first.
func summarize(records []model.DetectionRecord) []labelCount {
	byLabel := map[string]*labelCount{}
	for _, r := range records {
		c, ok := byLabel[r.Label]
		if !ok {
			c = &labelCount{Label: r.Label}
			byLabel[r.Label] = c
		}
		c.Count++
		if r.Confidence > c.Best {
			c.Best = r.Confidence
		}
	}

	out := make([]labelCount, 0, len(byLabel))
	for _, c := range byLabel {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}
