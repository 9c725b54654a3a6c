package engine

import (
	"os"
	"path/filepath"
	"testing"

	iface "SensitiveDet/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestReadLinesReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.txt")
	require.NoError(t, os.WriteFile(path, []byte("person\r\ncar\n\nbicycle\n"), 0o644))
	lines, err := ReadLinesReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"person", "car", "bicycle"}, lines)
}

func TestDetector_All(t *testing.T) {
	d := &Detector{}

	t.Run("Test New", func(t *testing.T) {
		assert.True(t, d.New())
		assert.Equal(t, REGISTERED, d.State)
		assert.Equal(t, DefaultInputSize, d.InputSize)
	})

	t.Run("Test Detect Before Load", func(t *testing.T) {
		img := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
		defer img.Close()
		res := d.Detect(img)
		assert.False(t, res.Success)
		assert.Equal(t, "Model not loaded", res.Data)
	})

	t.Run("Test LoadModel Rejections", func(t *testing.T) {
		names := iface.NamesConf{Data: []string{"person"}}
		_, err := d.LoadModel("model/test_model.param", names, 0.25, 0.45, false)
		assert.ErrorContains(t, err, ".onnx")

		_, err = d.LoadModel("model.onnx", names, 1.5, 0.45, false)
		assert.ErrorContains(t, err, "confidence")

		_, err = d.LoadModel("model.onnx", names, 0.25, -0.1, false)
		assert.ErrorContains(t, err, "IoU")

		_, err = d.LoadModel("model.onnx", iface.NamesConf{Data: 42}, 0.25, 0.45, false)
		assert.ErrorContains(t, err, "names")

		_, err = d.LoadModel(filepath.Join(t.TempDir(), "missing.onnx"), names, 0.25, 0.45, false)
		assert.Error(t, err)
		assert.Equal(t, REGISTERED, d.State)
	})

	t.Run("Test SetInputSize", func(t *testing.T) {
		d.SetInputSize(1280)
		assert.Equal(t, 1280, d.CheckConfig().InputSize)
		d.SetInputSize(0)
		assert.Equal(t, 1280, d.InputSize)
	})

	t.Run("Test Destroy", func(t *testing.T) {
		d.Destroy()
		assert.Equal(t, "", d.ModelPath)
		assert.Equal(t, float32(0), d.Conf)
		assert.Equal(t, float32(0), d.Iou)
		assert.False(t, d.UseGPU)
		assert.Equal(t, UNREGISTERED, d.State)

		img := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
		defer img.Close()
		assert.Equal(t, "Detector not registered", d.Detect(img).Data)
	})
}

func TestResolveNames(t *testing.T) {
	names, err := resolveNames(iface.NamesConf{Data: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	path := filepath.Join(t.TempDir(), "coco.names")
	require.NoError(t, os.WriteFile(path, []byte("x\ny\n"), 0o644))
	names, err = resolveNames(iface.NamesConf{IsFile: true, Data: path})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, names)

	_, err = resolveNames(iface.NamesConf{IsFile: true, Data: 3})
	assert.Error(t, err)
	_, err = resolveNames(iface.NamesConf{Data: []any{"a", 1}})
	assert.Error(t, err)
}

// head builds a channel-major [4+nc, anchors] tensor from per-anchor rows.
func head(rows [][]float32) []float32 {
	channels, anchors := len(rows[0]), len(rows)
	data := make([]float32, channels*anchors)
	for i, row := range rows {
		for c, v := range row {
			data[c*anchors+i] = v
		}
	}
	return data
}

func TestDecodeAndSuppress(t *testing.T) {
	// cx, cy, w, h, score(person), score(car)
	data := head([][]float32{
		{100, 100, 40, 40, 0.90, 0.05},
		{102, 101, 40, 40, 0.80, 0.10}, // overlaps the first person box
		{300, 200, 60, 20, 0.02, 0.70},
		{50, 50, 10, 10, 0.10, 0.20}, // below threshold
		{101, 100, 40, 40, 0.05, 0.60}, // same place as person, other class
	})

	cands := decodeYOLO(data, 6, 5, 2, 0.5, 0.25)
	require.Len(t, cands, 4)
	first := cands[0]
	assert.Equal(t, 0, first.class)
	assert.InDelta(t, 0.90, first.score, 1e-6)
	assert.InDelta(t, 160, first.x1, 1e-4)
	assert.InDelta(t, 40, first.y1, 1e-4)
	assert.InDelta(t, 240, first.x2, 1e-4)
	assert.InDelta(t, 60, first.y2, 1e-4)

	keep := suppress(cands, 0.25, 0.45)
	var kept []int
	for _, i := range keep {
		kept = append(kept, cands[i].class)
	}
	assert.ElementsMatch(t, []int{0, 1, 1}, kept)

	d := &Detector{Names: []string{"person"}}
	grouped := d.group(cands, keep)
	assert.Len(t, grouped["person"], 1)
	assert.Len(t, grouped["class_1"], 2)
	r := grouped["person"][0]
	assert.InDelta(t, 200, r.Center.X, 1e-4)
	assert.InDelta(t, 50, r.Center.Y, 1e-4)
	assert.Equal(t, r.Box.LT.X, r.Box.LB.X)
	assert.Equal(t, r.Box.RB.Y, r.Box.LB.Y)
}
