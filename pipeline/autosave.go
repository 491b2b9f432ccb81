package pipeline

import (
	"time"

	"github.com/khaledhikmat/vs-office/model"
)

// autoSaver decides which rendered frames are written to the output folder
// without a user request. Each label has its own cooldown.
type autoSaver struct {
	policy   AutoSavePolicy
	cooldown time.Duration
	last     map[string]time.Time
}

func newAutoSaver(policy AutoSavePolicy, cooldown time.Duration) *autoSaver {
	return &autoSaver{
		policy:   policy,
		cooldown: cooldown,
		last:     map[string]time.Time{},
	}
}

// ShouldSave returns the label to name the file after, if dets warrant a save at now.
func (a *autoSaver) ShouldSave(dets model.DetectionSet, now time.Time) (string, bool) {
	if a.policy == AutoSaveOff {
		return "", false
	}

	best, ok := dets.Best()
	if !ok {
		return "", false
	}
	if a.policy == AutoSaveHighConfidence && best.Confidence < HighConfidence {
		return "", false
	}

	if last, seen := a.last[best.Label]; seen && now.Sub(last) < a.cooldown {
		return "", false
	}
	a.last[best.Label] = now
	return best.Label, true
}
