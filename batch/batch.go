package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	iface "SensitiveDet/interface"
	"SensitiveDet/logger"
	"SensitiveDet/monitor"
	"SensitiveDet/render"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

var ErrUnreadableImage = errors.New("failed to load image")

// Instance is one detection flattened out of the backend's class map.
type Instance struct {
	Class   string
	ClassID int
	Conf    float32
	Rect    image.Rectangle
}

func (in Instance) Label() string {
	return fmt.Sprintf("%s:%.2f", in.Class, in.Conf)
}

// Report summarizes a directory run.
type Report struct {
	Processed  int
	Skipped    int
	Detections int
}

type Runner struct {
	Backend   iface.Backend
	InputDir  string
	OutputDir string
	Metrics   *monitor.Metrics
}

func NewRunner(backend iface.Backend, inputDir, outputDir string, metrics *monitor.Metrics) *Runner {
	return &Runner{Backend: backend, InputDir: inputDir, OutputDir: outputDir, Metrics: metrics}
}

// ListImages returns the .jpg/.jpeg/.png files directly inside dir, sorted.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Run annotates every image in InputDir into OutputDir, one at a time.
// Unreadable images are logged and skipped; ctx is checked between files.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	var report Report
	if err := os.MkdirAll(r.OutputDir, 0o755); err != nil {
		return report, fmt.Errorf("create output dir: %w", err)
	}
	paths, err := ListImages(r.InputDir)
	if err != nil {
		return report, fmt.Errorf("list input dir: %w", err)
	}
	logger.Log().Info("Batch started",
		zap.String("input", r.InputDir),
		zap.String("output", r.OutputDir),
		zap.Int("images", len(paths)))

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n, err := r.ProcessFile(path)
		if err != nil {
			logger.Log().Warn("Skipping image", zap.String("path", path), zap.Error(err))
			r.Metrics.ImageDone("skipped")
			report.Skipped++
			continue
		}
		r.Metrics.ImageDone("annotated")
		report.Processed++
		report.Detections += n
	}
	return report, nil
}

// ProcessFile detects, draws and saves a single image. It returns the
// number of boxes drawn.
func (r *Runner) ProcessFile(path string) (int, error) {
	logger.Log().Info("Processing", zap.String("path", path))
	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return 0, ErrUnreadableImage
	}

	start := time.Now()
	res := r.Backend.Detect(img)
	r.Metrics.ObserveInference(time.Since(start))
	instances, err := Flatten(res)
	if err != nil {
		return 0, err
	}

	base := filepath.Base(path)
	for _, in := range instances {
		render.DrawLabeled(&img, in.Rect, in.Label(), render.Green, render.White)
		r.Metrics.Detected(in.Class)
		logger.Log().Info(fmt.Sprintf("%s -> %s (%d)", base, in.Class, in.ClassID),
			zap.String("conf", fmt.Sprintf("%.2f", in.Conf)),
			zap.Ints("box", []int{in.Rect.Min.X, in.Rect.Min.Y, in.Rect.Max.X, in.Rect.Max.Y}))
	}

	savePath := filepath.Join(r.OutputDir, base)
	if err := render.Save(savePath, img); err != nil {
		return 0, err
	}
	logger.Log().Info("Saved annotated image", zap.String("path", savePath))
	return len(instances), nil
}

// Flatten turns a backend result into instances ordered by confidence,
// highest first.
func Flatten(res iface.RetData) ([]Instance, error) {
	if !res.Success {
		return nil, fmt.Errorf("inference error: %v", res.Data)
	}
	byClass, ok := res.Data.(map[string][]iface.Result)
	if !ok {
		return nil, fmt.Errorf("unexpected data type in results: %T", res.Data)
	}
	var out []Instance
	for class, results := range byClass {
		for _, res := range results {
			out = append(out, Instance{
				Class:   class,
				ClassID: res.ClassID,
				Conf:    res.Conf,
				Rect: image.Rect(
					int(res.Box.LT.X), int(res.Box.LT.Y),
					int(res.Box.RB.X), int(res.Box.RB.Y)),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Conf != out[j].Conf {
			return out[i].Conf > out[j].Conf
		}
		return out[i].Class < out[j].Class
	})
	return out, nil
}
