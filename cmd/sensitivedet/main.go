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

	"SensitiveDet/config"
	"SensitiveDet/extract"
	iface "SensitiveDet/interface"
	"SensitiveDet/llava"
	"SensitiveDet/logger"
	"SensitiveDet/monitor"
	"SensitiveDet/render"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	image := flag.String("image", "", "image to analyze")
	out := flag.String("out", "", "where to save the annotated image")
	prompt := flag.String("prompt", "", "prompt text, overrides the built-in sensitive content prompt")
	promptFile := flag.String("prompt-file", "", "read the prompt from a file")
	cli := flag.String("cli", "", "path to llama-mtmd-cli")
	model := flag.String("model", "", "path to the LLaVA gguf weights")
	mmproj := flag.String("mmproj", "", "path to the multimodal projector gguf")
	noDisplay := flag.Bool("no-display", false, "do not open a window with the result")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Failed:", err)
		os.Exit(1)
	}
	setIfNotEmpty(&cfg.Detect.Image, *image)
	setIfNotEmpty(&cfg.Detect.Output, *out)
	setIfNotEmpty(&cfg.Detect.Llava.Prompt, *prompt)
	setIfNotEmpty(&cfg.Detect.Llava.PromptFile, *promptFile)
	setIfNotEmpty(&cfg.Detect.Llava.CLIPath, *cli)
	setIfNotEmpty(&cfg.Detect.Llava.ModelPath, *model)
	setIfNotEmpty(&cfg.Detect.Llava.MMProjPath, *mmproj)
	if *noDisplay {
		cfg.Detect.Render.Display = false
	}

	if err := logger.Init(cfg.Log); err != nil {
		fmt.Println("Failed:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	for _, note := range cfg.Fallbacks() {
		logger.Log().Warn(note)
	}
	if err := cfg.ValidateDetect(); err != nil {
		fail("Invalid configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := monitor.New("detect")
	if err := metrics.Serve(ctx, cfg.Metrics.Port); err != nil {
		logger.Log().Warn("Metrics disabled", zap.Error(err))
	}

	logger.With(zap.String("run", uuid.NewString()))
	logger.Log().Info("Run started", zap.String("image", cfg.Detect.Image))
	if err := run(ctx, cfg, metrics); err != nil {
		stop()
		fail("Run failed", err)
	}
	logger.Log().Info("Run finished")
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

func run(ctx context.Context, cfg config.Config, metrics *monitor.Metrics) error {
	runner, err := llava.NewRunner(cfg.Detect.Llava)
	if err != nil {
		return err
	}
	prompt, err := cfg.Detect.Llava.ResolvePrompt()
	if err != nil {
		return err
	}

	fmt.Println("Inference output:")
	fmt.Println()
	result, err := runner.Run(ctx, cfg.Detect.Image, prompt)
	metrics.ObserveInference(result.Duration)
	if err != nil {
		return err
	}
	fmt.Printf("\nInference completed in %.2f seconds.\n", result.Duration.Seconds())

	dets, err := extract.Detections(result.Text)
	if err != nil {
		return err
	}
	logger.Log().Info("Extracted detections", zap.Int("count", len(dets)))

	var viewer render.Viewer = render.NopViewer{}
	if cfg.Detect.Render.Display {
		viewer = render.WindowViewer{}
	}
	r := render.NewRenderer(viewer)
	r.Stroke = cfg.Detect.Render.Stroke
	sum, err := r.Annotate(cfg.Detect.Image, dets, cfg.Detect.Output)
	if err != nil {
		metrics.ImageDone("failed")
		return err
	}
	for _, det := range dets {
		if len(det.BBox) == 4 {
			metrics.Detected(det.Label())
		}
	}
	metrics.Invalid(sum.Skipped)
	metrics.ImageDone("annotated")
	if cfg.Detect.Output != "" {
		fmt.Printf("Image saved to %s\n", cfg.Detect.Output)
	}
	logger.Log().Info("Annotated",
		zap.Int("drawn", sum.Drawn),
		zap.Int("skipped", sum.Skipped),
		zap.String("labels", strings.Join(labels(dets), ",")))
	return nil
}

func labels(dets []iface.Detection) []string {
	out := make([]string, 0, len(dets))
	for _, d := range dets {
		out = append(out, d.Label())
	}
	return out
}
