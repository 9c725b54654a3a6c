package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"SensitiveDet/batch"
	"SensitiveDet/engine"
	"SensitiveDet/llava"
	"SensitiveDet/logger"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

type Render struct {
	Display bool `yaml:"display"`
	Stroke  int  `yaml:"stroke" validate:"gte=0"`
}

type Metrics struct {
	Port int `yaml:"port" validate:"gte=0,lte=65535"`
}

// Detect is the interactive pipeline's section.
type Detect struct {
	Image  string       `yaml:"image"`
	Output string       `yaml:"output"`
	Llava  llava.Config `yaml:"llava"`
	Render Render       `yaml:"render"`
}

type Config struct {
	Detect  Detect        `yaml:"detect"`
	Batch   batch.Config  `yaml:"batch"`
	Log     logger.Config `yaml:"log"`
	Metrics Metrics       `yaml:"metrics"`
}

// Default holds the values used when config.yaml leaves a field out.
func Default() Config {
	return Config{
		Detect: Detect{
			Llava: llava.Config{
				CLIPath:      "./llama.cpp/build/bin/llama-mtmd-cli",
				ModelPath:    "./models/llava-v1.5-7b-Q4_K_M.gguf",
				MMProjPath:   "./models/llava-v1.5-7b-mmproj-f16.gguf",
				ChatTemplate: llava.DefaultChatTemplate,
			},
			Render: Render{Display: true, Stroke: 3},
		},
		Batch: batch.Config{
			InputDir:  "test",
			OutputDir: "output",
			ModelPath: "./models/yolo.onnx",
			Conf:      engine.DefaultConf,
			Iou:       engine.DefaultIou,
			InputSize: engine.DefaultInputSize,
		},
		Log: logger.Config{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

var validate = validator.New()

// ValidateDetect checks the fields the interactive pipeline needs.
func (c Config) ValidateDetect() error {
	if err := validate.Struct(c.Detect); err != nil {
		return fmt.Errorf("invalid detect config: %w", err)
	}
	if c.Detect.Image == "" {
		return errors.New("invalid detect config: image is required")
	}
	return c.validateCommon()
}

// ValidateBatch checks the fields the batch pipeline needs.
func (c Config) ValidateBatch() error {
	if err := validate.Struct(c.Batch); err != nil {
		return fmt.Errorf("invalid batch config: %w", err)
	}
	return c.validateCommon()
}

func (c Config) validateCommon() error {
	if err := validate.Struct(c.Log); err != nil {
		return fmt.Errorf("invalid log config: %w", err)
	}
	if err := validate.Struct(c.Metrics); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}
	return nil
}

// Fallbacks replaces unusable zero values with defaults and reports each
// replacement so the caller can log it.
func (c *Config) Fallbacks() []string {
	var notes []string
	def := Default()
	if c.Batch.Conf == 0 {
		c.Batch.Conf = def.Batch.Conf
		notes = append(notes, fmt.Sprintf("batch.conf not set, defaulting to %.2f", c.Batch.Conf))
	}
	if c.Batch.Iou == 0 {
		c.Batch.Iou = def.Batch.Iou
		notes = append(notes, fmt.Sprintf("batch.iou not set, defaulting to %.2f", c.Batch.Iou))
	}
	if c.Batch.InputSize <= 0 {
		c.Batch.InputSize = def.Batch.InputSize
		notes = append(notes, fmt.Sprintf("invalid batch.inputSize, defaulting to %d", c.Batch.InputSize))
	}
	if c.Detect.Render.Stroke <= 0 {
		c.Detect.Render.Stroke = def.Detect.Render.Stroke
		notes = append(notes, fmt.Sprintf("invalid detect.render.stroke, defaulting to %d", c.Detect.Render.Stroke))
	}
	if c.Detect.Llava.ChatTemplate == "" {
		c.Detect.Llava.ChatTemplate = llava.DefaultChatTemplate
	}
	return notes
}
