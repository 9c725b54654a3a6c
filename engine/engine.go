package engine

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	iface "SensitiveDet/interface"

	"gocv.io/x/gocv"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004

const (
	DefaultInputSize = 640
	DefaultConf      = 0.25
	DefaultIou       = 0.45

	// classOffset separates boxes of different classes so one NMS pass
	// only suppresses overlaps within a class.
	classOffset = 7680
)

// ReadLinesReadFile returns the non-empty lines of path, CRLF tolerant.
func ReadLinesReadFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := strings.Split(string(b), "\n")
	var lines []string
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

var _ iface.Backend = (*Detector)(nil)

// Detector runs a YOLO ONNX export through the OpenCV DNN module.
type Detector struct {
	ModelPath    string
	Names        []string
	Conf         float32
	Iou          float32
	UseGPU       bool
	InputSize    int
	State        int
	ErrorMessage string

	net    gocv.Net
	loaded bool
}

func (d *Detector) New() bool {
	d.InputSize = DefaultInputSize
	d.State = REGISTERED
	return true
}

func (d *Detector) CheckConfig() iface.EngineConfig {
	retConfig := iface.EngineConfig{}
	retConfig.ModelPath = d.ModelPath
	retConfig.Conf = d.Conf
	retConfig.Iou = d.Iou
	retConfig.UseGPU = d.UseGPU
	retConfig.InputSize = d.InputSize
	retConfig.Names = iface.NamesConf{
		IsFile: false,
		Data:   d.Names,
	}
	return retConfig
}

func resolveNames(names iface.NamesConf) ([]string, error) {
	if names.IsFile {
		path, ok := names.Data.(string)
		if !ok {
			return nil, fmt.Errorf("names file must be a string path, got %T", names.Data)
		}
		return ReadLinesReadFile(path)
	}
	if names.Data == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(names.Data)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("names must be a slice or a file path, got %T", names.Data)
	}
	out := make([]string, rv.Len())
	for i := range out {
		s, ok := rv.Index(i).Interface().(string)
		if !ok {
			return nil, fmt.Errorf("names[%d] is %T, not string", i, rv.Index(i).Interface())
		}
		out[i] = s
	}
	return out, nil
}

func (d *Detector) LoadModel(modelPath string, names iface.NamesConf, conf float32, iou float32, useGPU bool) (bool, error) {
	if d.State == UNREGISTERED {
		return false, errors.New("detector not registered")
	}
	resolved, err := resolveNames(names)
	if err != nil {
		return false, err
	}
	if !strings.EqualFold(filepath.Ext(modelPath), ".onnx") {
		return false, fmt.Errorf("LoadModel only supports .onnx, got %s", modelPath)
	}
	if conf < 0 || conf > 1 {
		return false, fmt.Errorf("confidence must be between 0.0 and 1.0, got %f", conf)
	}
	if iou < 0 || iou > 1 {
		return false, fmt.Errorf("IoU must be between 0.0 and 1.0, got %f", iou)
	}

	if _, err := os.Stat(modelPath); err != nil {
		return false, fmt.Errorf("model %s: %w", modelPath, err)
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		_ = net.Close()
		d.ErrorMessage = "failed to read model " + modelPath
		return false, errors.New(d.ErrorMessage)
	}
	if useGPU {
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	} else {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}
	if d.loaded {
		_ = d.net.Close()
	}
	d.net = net
	d.loaded = true
	d.Names = resolved
	d.ModelPath = modelPath
	d.Conf = conf
	d.Iou = iou
	d.UseGPU = useGPU
	d.ErrorMessage = ""
	d.State = IDLE
	return true, nil
}

func (d *Detector) Destroy() {
	if d.loaded {
		_ = d.net.Close()
	}
	d.loaded = false
	d.ModelPath = ""
	d.Conf = 0
	d.Iou = 0
	d.UseGPU = false
	d.State = UNREGISTERED
}

func (d *Detector) SetInputSize(size int) {
	if size > 0 {
		d.InputSize = size
	}
}

// Detect returns map[string][]iface.Result keyed by class name on success,
// or a message string when the detector cannot run.
func (d *Detector) Detect(img gocv.Mat) iface.RetData {
	switch d.State {
	case UNREGISTERED:
		return iface.RetData{Success: false, Data: "Detector not registered"}
	case REGISTERED:
		return iface.RetData{Success: false, Data: "Model not loaded"}
	case BUSY:
		return iface.RetData{Success: false, Data: "Detector is busy"}
	}
	if img.Empty() {
		return iface.RetData{Success: false, Data: "Empty image"}
	}
	d.State = BUSY
	defer func() { d.State = IDLE }()

	size := d.InputSize
	if size <= 0 {
		size = DefaultInputSize
	}
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 || dims[1] <= 4 {
		return iface.RetData{Success: false, Data: fmt.Sprintf("unexpected output shape %v", dims)}
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return iface.RetData{Success: false, Data: err.Error()}
	}

	scaleX := float32(img.Cols()) / float32(size)
	scaleY := float32(img.Rows()) / float32(size)
	cands := decodeYOLO(data, dims[1], dims[2], scaleX, scaleY, d.Conf)
	keep := suppress(cands, d.Conf, d.Iou)
	return iface.RetData{Success: true, Data: d.group(cands, keep)}
}

func (d *Detector) className(classIdx int) string {
	if classIdx >= 0 && classIdx < len(d.Names) {
		return d.Names[classIdx]
	}
	return fmt.Sprintf("class_%d", classIdx)
}

func (d *Detector) group(cands []candidate, keep []int) map[string][]iface.Result {
	resultDict := make(map[string][]iface.Result)
	for item := range d.Names {
		resultDict[d.Names[item]] = []iface.Result{}
	}
	for _, i := range keep {
		c := cands[i]
		box := iface.Box{
			LT: iface.Position{X: c.x1, Y: c.y1},
			RT: iface.Position{X: c.x2, Y: c.y1},
			RB: iface.Position{X: c.x2, Y: c.y2},
			LB: iface.Position{X: c.x1, Y: c.y2},
		}
		center := iface.Position{
			X: (box.LT.X + box.RB.X) / 2,
			Y: (box.LT.Y + box.RB.Y) / 2,
		}
		className := d.className(c.class)
		resultDict[className] = append(resultDict[className], iface.Result{
			ClassID: c.class,
			Conf:    c.score,
			Box:     box,
			Center:  center,
		})
	}
	return resultDict
}

type candidate struct {
	x1, y1, x2, y2 float32
	score          float32
	class          int
}

// decodeYOLO reads a [1, 4+nc, anchors] head laid out channel-major:
// cx, cy, w, h, then one score per class. Coordinates are in network input
// pixels and are scaled back to the source image.
func decodeYOLO(data []float32, channels, anchors int, scaleX, scaleY, conf float32) []candidate {
	numClasses := channels - 4
	var cands []candidate
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, float32(0)
		for c := 0; c < numClasses; c++ {
			s := data[(4+c)*anchors+i]
			if s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < conf {
			continue
		}
		cx, cy := data[i], data[anchors+i]
		w, h := data[2*anchors+i], data[3*anchors+i]
		cands = append(cands, candidate{
			x1:    (cx - w/2) * scaleX,
			y1:    (cy - h/2) * scaleY,
			x2:    (cx + w/2) * scaleX,
			y2:    (cy + h/2) * scaleY,
			score: bestScore,
			class: best,
		})
	}
	return cands
}

func suppress(cands []candidate, conf, iou float32) []int {
	if len(cands) == 0 {
		return nil
	}
	rects := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		off := c.class * classOffset
		rects[i] = image.Rect(int(c.x1)+off, int(c.y1)+off, int(c.x2)+off, int(c.y2)+off)
		scores[i] = c.score
	}
	return gocv.NMSBoxes(rects, scores, conf, iou)
}
