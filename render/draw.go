package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	iface "SensitiveDet/interface"
	"SensitiveDet/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	StrokeWidth = 3
	LabelOffset = 10

	labelFont      = gocv.FontHersheySimplex
	labelScale     = 0.5
	labelThickness = 1
)

// Summary counts what a Draw call did with its detections.
type Summary struct {
	Drawn   int
	Skipped int
}

// Renderer overlays model detections on images.
type Renderer struct {
	Viewer Viewer
	Stroke int
}

func NewRenderer(viewer Viewer) *Renderer {
	if viewer == nil {
		viewer = NopViewer{}
	}
	return &Renderer{Viewer: viewer, Stroke: StrokeWidth}
}

// Draw paints every valid detection onto img. Detections without a usable
// bbox are logged and skipped.
func (r *Renderer) Draw(img *gocv.Mat, dets []iface.Detection) Summary {
	var sum Summary
	width, height := img.Cols(), img.Rows()
	for i, det := range dets {
		rect, err := Resolve(det.BBox, width, height)
		if err != nil {
			logger.Log().Warn("Skipping invalid bbox",
				zap.Int("index", i),
				zap.String("type", det.Type),
				zap.Any("record", det.Record),
				zap.Error(err))
			sum.Skipped++
			continue
		}
		label := det.Label()
		col := ColorFor(label)
		gocv.Rectangle(img, rect, col, r.stroke())
		putLabelAbove(img, label, rect.Min, col)
		sum.Drawn++
	}
	return sum
}

// Annotate loads imagePath, draws dets, shows the result and writes it to
// savePath when one is given.
func (r *Renderer) Annotate(imagePath string, dets []iface.Detection, savePath string) (Summary, error) {
	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	if img.Empty() {
		_ = img.Close()
		return Summary{}, fmt.Errorf("failed to load image %s", imagePath)
	}
	defer img.Close()

	sum := r.Draw(&img, dets)
	if err := r.Viewer.Show(imagePath, img); err != nil {
		logger.Log().Warn("Display failed", zap.Error(err))
	}
	if savePath != "" {
		if err := Save(savePath, img); err != nil {
			return sum, err
		}
		logger.Log().Info("Image saved", zap.String("path", savePath))
	}
	return sum, nil
}

func (r *Renderer) stroke() int {
	if r.Stroke <= 0 {
		return StrokeWidth
	}
	return r.Stroke
}

// Save encodes img to path; the extension picks the format.
func Save(path string, img gocv.Mat) error {
	if !gocv.IMWrite(path, img) {
		return errors.New("failed to write image " + path)
	}
	return nil
}

// putLabelAbove places the top of the text LabelOffset pixels above corner.
func putLabelAbove(img *gocv.Mat, label string, corner image.Point, col color.RGBA) {
	size := gocv.GetTextSize(label, labelFont, labelScale, labelThickness)
	origin := image.Pt(corner.X, corner.Y-LabelOffset+size.Y)
	gocv.PutText(img, label, origin, labelFont, labelScale, col, labelThickness)
}

const (
	batchStroke    = 2
	batchScale     = 0.7
	batchThickness = 2
)

// DrawLabeled draws a box with its label on a filled background strip
// sitting on the box's top edge.
func DrawLabeled(img *gocv.Mat, rect image.Rectangle, label string, box, text color.RGBA) {
	gocv.Rectangle(img, rect, box, batchStroke)
	size := gocv.GetTextSize(label, labelFont, batchScale, batchThickness)
	bg := image.Rect(rect.Min.X, rect.Min.Y-size.Y-5, rect.Min.X+size.X, rect.Min.Y)
	gocv.Rectangle(img, bg, box, -1)
	gocv.PutText(img, label, image.Pt(rect.Min.X, rect.Min.Y-5), labelFont, batchScale, text, batchThickness)
}
