package batch

import (
	"SensitiveDet/engine"
	iface "SensitiveDet/interface"
	"SensitiveDet/logger"

	"go.uber.org/zap"
)

// Config holds the batch detector settings.
type Config struct {
	InputDir  string   `yaml:"inputDir" validate:"required"`
	OutputDir string   `yaml:"outputDir" validate:"required"`
	ModelPath string   `yaml:"modelPath" validate:"required"`
	NamesFile string   `yaml:"namesFile"`
	Names     []string `yaml:"names"`
	Conf      float32  `yaml:"conf" validate:"gte=0,lte=1"`
	Iou       float32  `yaml:"iou" validate:"gte=0,lte=1"`
	InputSize int      `yaml:"inputSize" validate:"gte=0"`
	UseGPU    bool     `yaml:"useGPU"`
}

func (c Config) names() iface.NamesConf {
	if c.NamesFile != "" {
		return iface.NamesConf{IsFile: true, Data: c.NamesFile}
	}
	return iface.NamesConf{IsFile: false, Data: c.Names}
}

// LoadDetector builds the ONNX detector described by cfg.
func LoadDetector(cfg Config) (*engine.Detector, error) {
	detector := &engine.Detector{}
	detector.New()
	if cfg.InputSize > 0 {
		detector.SetInputSize(cfg.InputSize)
	}
	if _, err := detector.LoadModel(cfg.ModelPath, cfg.names(), cfg.Conf, cfg.Iou, cfg.UseGPU); err != nil {
		return nil, err
	}
	logger.Log().Info("Loaded detector",
		zap.String("model", cfg.ModelPath),
		zap.Strings("names", detector.Names),
		zap.Float32("conf", detector.Conf),
		zap.Float32("iou", detector.Iou),
		zap.Int("inputSize", detector.InputSize),
		zap.Bool("gpu", detector.UseGPU))
	return detector, nil
}
