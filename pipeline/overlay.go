package pipeline

import (
	"image"
	"image/color"

	"github.com/khaledhikmat/vs-office/model"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	boxThickness = 2
	labelPadding = 2
)

var (
	colorExcellent = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	colorGood      = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	colorPoor      = color.RGBA{R: 220, G: 0, B: 0, A: 255}
	colorText      = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// BandColor is the box colour for a confidence score.
func BandColor(confidence float32) color.RGBA {
	switch {
	case confidence >= HighConfidence:
		return colorExcellent
	case confidence >= 0.5:
		return colorGood
	default:
		return colorPoor
	}
}

// DrawnBoxes returns, in order, the box Render draws for each detection at
// or above threshold, clipped to bounds. Boxes that fall fully outside are
// omitted.
func DrawnBoxes(dets model.DetectionSet, threshold float32, bounds image.Rectangle) ([]model.Detection, []image.Rectangle) {
	kept := []model.Detection{}
	boxes := []image.Rectangle{}
	for _, d := range dets {
		if d.Confidence < threshold {
			continue
		}
		r := d.Rect().Intersect(bounds)
		if r.Empty() {
			continue
		}
		kept = append(kept, d)
		boxes = append(boxes, r)
	}
	return kept, boxes
}

// Render draws the boxes and labels for dets onto a copy of the frame.
// The input frame is never modified.
func Render(frame model.Frame, dets model.DetectionSet, threshold float32) model.AnnotatedFrame {
	if frame.Empty() {
		return model.AnnotatedFrame{Frame: frame, Detections: model.DetectionSet{}}
	}

	bounds := frame.Bounds()
	out := image.NewRGBA(bounds)
	xdraw.Draw(out, bounds, frame.Image, bounds.Min, xdraw.Src)

	kept, boxes := DrawnBoxes(dets, threshold, bounds)
	for i, d := range kept {
		col := BandColor(d.Confidence)
		drawRect(out, boxes[i], col, boxThickness)
		drawLabel(out, boxes[i], d.String(), col)
	}

	return model.AnnotatedFrame{
		Frame:      frame,
		Detections: model.NewDetectionSet(kept),
		Rendered:   out,
	}
}

func drawRect(img *image.RGBA, r image.Rectangle, col color.RGBA, thickness int) {
	u := image.NewUniform(col)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		xdraw.Draw(img, e.Intersect(r), u, image.Point{}, xdraw.Src)
	}
}

// drawLabel places text on a filled tab above the box, or inside its top
// edge when there is no room above. The tab is clipped to the image.
func drawLabel(img *image.RGBA, box image.Rectangle, text string, bg color.RGBA) {
	face := basicfont.Face7x13
	textW := font.MeasureString(face, text).Ceil()
	textH := face.Metrics().Height.Ceil()

	tabH := textH + 2*labelPadding
	tab := image.Rect(box.Min.X, box.Min.Y-tabH, box.Min.X+textW+2*labelPadding, box.Min.Y)
	if tab.Min.Y < img.Bounds().Min.Y {
		tab = tab.Add(image.Pt(0, tabH))
	}
	clip := tab.Intersect(img.Bounds())
	if clip.Empty() {
		return
	}

	xdraw.Draw(img, clip, image.NewUniform(bg), image.Point{}, xdraw.Src)

	sub, ok := img.SubImage(clip).(*image.RGBA)
	if !ok {
		return
	}
	d := &font.Drawer{
		Dst:  sub,
		Src:  image.NewUniform(colorText),
		Face: face,
		Dot:  fixed.P(tab.Min.X+labelPadding, tab.Min.Y+labelPadding+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
}
