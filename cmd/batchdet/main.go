package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"SensitiveDet/batch"
	"SensitiveDet/config"
	"SensitiveDet/logger"
	"SensitiveDet/monitor"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	in := flag.String("in", "", "directory of .jpg/.jpeg/.png images")
	out := flag.String("out", "", "directory for annotated copies, created if absent")
	model := flag.String("model", "", "YOLO ONNX model")
	names := flag.String("names", "", "class names file, one per line")
	conf := flag.Float64("conf", 0, "confidence threshold")
	iou := flag.Float64("iou", 0, "NMS IoU threshold")
	size := flag.Int("size", 0, "network input size")
	gpu := flag.Bool("gpu", false, "run inference on CUDA")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Failed:", err)
		os.Exit(1)
	}
	setIfNotEmpty(&cfg.Batch.InputDir, *in)
	setIfNotEmpty(&cfg.Batch.OutputDir, *out)
	setIfNotEmpty(&cfg.Batch.ModelPath, *model)
	setIfNotEmpty(&cfg.Batch.NamesFile, *names)
	if *conf > 0 {
		cfg.Batch.Conf = float32(*conf)
	}
	if *iou > 0 {
		cfg.Batch.Iou = float32(*iou)
	}
	if *size > 0 {
		cfg.Batch.InputSize = *size
	}
	if *gpu {
		cfg.Batch.UseGPU = true
	}

	if err := logger.Init(cfg.Log); err != nil {
		fmt.Println("Failed:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	for _, note := range cfg.Fallbacks() {
		logger.Log().Warn(note)
	}
	if err := cfg.ValidateBatch(); err != nil {
		fail("Invalid configuration", err)
	}
	logger.With(zap.String("run", uuid.NewString()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := monitor.New("batch")
	if err := metrics.Serve(ctx, cfg.Metrics.Port); err != nil {
		logger.Log().Warn("Metrics disabled", zap.Error(err))
	}

	detector, err := batch.LoadDetector(cfg.Batch)
	if err != nil {
		stop()
		fail("Failed to load model", err)
	}
	defer detector.Destroy()
	fmt.Println(strings.Repeat("#", 64))
	fmt.Println("Classes:", detector.Names)
	fmt.Println(strings.Repeat("#", 64))

	runner := batch.NewRunner(detector, cfg.Batch.InputDir, cfg.Batch.OutputDir, metrics)
	report, err := runner.Run(ctx)
	logger.Log().Info("Batch finished",
		zap.Int("processed", report.Processed),
		zap.Int("skipped", report.Skipped),
		zap.Int("detections", report.Detections))
	if err != nil {
		detector.Destroy()
		stop()
		fail("Batch failed", err)
	}
}

var console io.Writer = os.Stdout

var fatal = logger.Fatal

// fail prints the console failure line, then logs err and exits.
func fail(msg string, err error) {
	fmt.Fprintln(console, "Failed:", err)
	fatal(msg, err)
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
