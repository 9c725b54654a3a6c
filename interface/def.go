package iface

import "gocv.io/x/gocv"

// NamesConf carries class names either inline ([]string) or as a path to a
// one-name-per-line file.
type NamesConf struct {
	IsFile bool
	Data   any
}

type RetData struct {
	Success bool
	Data    any
}

type EngineConfig struct {
	UseGPU    bool
	ModelPath string
	Names     NamesConf
	Conf      float32
	Iou       float32
	InputSize int
}

type Position struct {
	X, Y float32
}

type Box struct {
	LT Position
	RT Position
	RB Position
	LB Position
}

type Result struct {
	ClassID int
	Conf    float32
	Box     Box
	Center  Position
}

// Backend is the object detector the batch loop runs per image.
type Backend interface {
	LoadModel(modelPath string, names NamesConf, conf float32, iou float32, useGPU bool) (bool, error)
	Detect(image gocv.Mat) RetData
	Destroy()
	CheckConfig() EngineConfig
	SetInputSize(size int)
}

// Detection is one region reported by the vision-language model.
// BBox is [x_min, y_min, x_max, y_max], normalized or absolute. BBox is nil
// when the record carried no bbox or one that is not a list of numbers.
type Detection struct {
	Type string    `json:"type,omitempty"`
	BBox []float64 `json:"bbox,omitempty"`

	// Record is the object as the model wrote it, extra fields included.
	Record map[string]any `json:"-"`
}

const UnknownType = "unknown"

// Label returns the detection type. Only a missing type becomes "unknown";
// an explicit empty string is kept.
func (d Detection) Label() string {
	if d.Type != "" {
		return d.Type
	}
	if v, ok := d.Record["type"]; ok && v != nil {
		return ""
	}
	return UnknownType
}
