package batch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	iface "SensitiveDet/interface"
	"SensitiveDet/monitor"
	"SensitiveDet/render"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type MockBackend struct {
	calls int
	fail  bool
}

func (m *MockBackend) LoadModel(modelPath string, names iface.NamesConf, conf float32, iou float32, useGPU bool) (bool, error) {
	return true, nil
}

func (m *MockBackend) Detect(mat gocv.Mat) iface.RetData {
	m.calls++
	if m.fail {
		return iface.RetData{Success: false, Data: "Detection failed"}
	}
	return iface.RetData{Success: true, Data: map[string][]iface.Result{
		"person": {
			{
				ClassID: 0,
				Conf:    0.91,
				Box: iface.Box{
					LT: iface.Position{X: 10, Y: 40},
					RT: iface.Position{X: 60, Y: 40},
					RB: iface.Position{X: 60, Y: 90},
					LB: iface.Position{X: 10, Y: 90},
				},
				Center: iface.Position{X: 35, Y: 65},
			},
		},
		"car": {},
	}}
}

func (m *MockBackend) Destroy() {}
func (m *MockBackend) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{ModelPath: "mock", Names: iface.NamesConf{Data: []string{"person", "car"}}}
}
func (m *MockBackend) SetInputSize(size int) {}

func writeImage(t *testing.T, path string) {
	t.Helper()
	img := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer img.Close()
	require.NoError(t, render.Save(path, img))
}

func fixtureDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "a.png"))
	writeImage(t, filepath.Join(dir, "B.PNG"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("not an image"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.png"), 0o755))
	return dir
}

func TestListImages(t *testing.T) {
	dir := fixtureDir(t)
	paths, err := ListImages(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "B.PNG"),
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "broken.jpg"),
	}, paths)

	_, err = ListImages(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestRunner_Run(t *testing.T) {
	t.Run("Test Annotates And Skips", func(t *testing.T) {
		in := fixtureDir(t)
		out := filepath.Join(t.TempDir(), "output", "openimage")
		backend := &MockBackend{}
		metrics := monitor.New("batch")
		r := NewRunner(backend, in, out, metrics)

		report, err := r.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Report{Processed: 2, Skipped: 1, Detections: 2}, report)
		assert.Equal(t, 2, backend.calls)

		for _, name := range []string{"a.png", "B.PNG"} {
			saved := gocv.IMRead(filepath.Join(out, name), gocv.IMReadColor)
			require.False(t, saved.Empty(), name)
			v := saved.GetVecbAt(90, 35)
			assert.Equal(t, []uint8{0, 255, 0}, []uint8{v[0], v[1], v[2]}, "green bottom edge in %s", name)
			_ = saved.Close()
		}
		assert.NoFileExists(t, filepath.Join(out, "broken.jpg"))

		assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Images.WithLabelValues("annotated")))
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Images.WithLabelValues("skipped")))
		assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Detections.WithLabelValues("person")))
	})

	t.Run("Test Backend Failure Skips Image", func(t *testing.T) {
		in := t.TempDir()
		writeImage(t, filepath.Join(in, "a.jpg"))
		out := t.TempDir()
		report, err := NewRunner(&MockBackend{fail: true}, in, out, nil).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Report{Skipped: 1}, report)
	})

	t.Run("Test Cancelled", func(t *testing.T) {
		in := fixtureDir(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		backend := &MockBackend{}
		_, err := NewRunner(backend, in, t.TempDir(), nil).Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, backend.calls)
	})

	t.Run("Test Missing Input Dir", func(t *testing.T) {
		_, err := NewRunner(&MockBackend{}, filepath.Join(t.TempDir(), "nope"), t.TempDir(), nil).Run(context.Background())
		assert.Error(t, err)
	})
}

func TestFlatten(t *testing.T) {
	res := iface.RetData{Success: true, Data: map[string][]iface.Result{
		"car":    {{ClassID: 2, Conf: 0.5}},
		"person": {{ClassID: 0, Conf: 0.9}, {ClassID: 0, Conf: 0.5}},
	}}
	got, err := Flatten(res)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "person", got[0].Class)
	assert.Equal(t, "car", got[1].Class)
	assert.Equal(t, "person", got[2].Class)
	assert.Equal(t, "person:0.90", got[0].Label())

	_, err = Flatten(iface.RetData{Success: true, Data: "oops"})
	assert.Error(t, err)
	_, err = Flatten(iface.RetData{Success: false, Data: "Model not loaded"})
	assert.ErrorContains(t, err, "Model not loaded")
}
