package inference

import (
	"image"
	"math"
	"sort"

	"github.com/khaledhikmat/vs-office/model"
	"golang.org/x/xerrors"
)

const (
	DefaultIoUThreshold  = 0.45
	DefaultMaxDetections = 10
)

// Decode turns a YOLO output tensor into detections in frame coordinates.
// Supported layouts:
//
//	[1, 4+nc, N]  YOLOv8 / YOLO11 (cx, cy, w, h, class scores...)
//	[1, N, 4+nc]  the same, transposed
//	[1, N, 5+nc]  YOLOv5 (cx, cy, w, h, objectness, class scores...)
//
// Boxes are scaled from the model input size to bounds and clamped to it.
// Candidates below threshold are discarded.
func Decode(t Tensor, labels []string, bounds image.Rectangle, threshold float32) ([]model.Detection, error) {
	nc := len(labels)
	if nc == 0 {
		return nil, xerrors.New("no labels")
	}
	if len(t.Shape) != 3 || t.Shape[0] != 1 {
		return nil, xerrors.Errorf("unexpected output shape %v", t.Shape)
	}
	if t.InputW <= 0 || t.InputH <= 0 {
		return nil, xerrors.Errorf("bad input size %dx%d", t.InputW, t.InputH)
	}

	d1, d2 := t.Shape[1], t.Shape[2]
	if len(t.Data) < d1*d2 {
		return nil, xerrors.Errorf("output has %d values, shape %v needs %d", len(t.Data), t.Shape, d1*d2)
	}

	// at returns attribute a of candidate i
	var at func(i, a int) float32
	var count int
	objectness := false

	switch {
	case d1 == 4+nc:
		count = d2
		at = func(i, a int) float32 { return t.Data[a*d2+i] }
	case d2 == 4+nc:
		count = d1
		at = func(i, a int) float32 { return t.Data[i*d2+a] }
	case d2 == 5+nc:
		count = d1
		objectness = true
		at = func(i, a int) float32 { return t.Data[i*d2+a] }
	default:
		return nil, xerrors.Errorf("output shape %v does not match %d classes", t.Shape, nc)
	}

	sx := float64(bounds.Dx()) / float64(t.InputW)
	sy := float64(bounds.Dy()) / float64(t.InputH)

	dets := []model.Detection{}
	for i := 0; i < count; i++ {
		offset := 4
		obj := float32(1)
		if objectness {
			obj = at(i, 4)
			if obj < threshold {
				continue
			}
			offset = 5
		}

		classID := -1
		best := float32(0)
		for c := 0; c < nc; c++ {
			if s := at(i, offset+c); s > best {
				best = s
				classID = c
			}
		}

		conf := obj * best
		if classID < 0 || conf < threshold {
			continue
		}

		cx, cy := float64(at(i, 0))*sx, float64(at(i, 1))*sy
		w, h := float64(at(i, 2))*sx, float64(at(i, 3))*sy

		r := image.Rect(
			int(math.Round(cx-w/2)),
			int(math.Round(cy-h/2)),
			int(math.Round(cx+w/2)),
			int(math.Round(cy+h/2)),
		).Add(bounds.Min).Intersect(bounds)
		if r.Empty() {
			continue
		}

		dets = append(dets, model.Detection{
			Label:      labels[classID],
			ClassID:    classID,
			Confidence: clamp01(conf),
			X:          r.Min.X,
			Y:          r.Min.Y,
			Width:      r.Dx(),
			Height:     r.Dy(),
		})
	}

	return dets, nil
}

// NMS keeps the highest scoring box of every overlapping group, ignoring
// class, and returns at most maxDet detections ordered by confidence.
func NMS(dets []model.Detection, iouThreshold float64, maxDet int) []model.Detection {
	sorted := make([]model.Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := []model.Detection{}
	for _, d := range sorted {
		if maxDet > 0 && len(kept) >= maxDet {
			break
		}
		overlaps := false
		for _, k := range kept {
			if IoU(d.Rect(), k.Rect()) > iouThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, d)
		}
	}
	return kept
}

func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
