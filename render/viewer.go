package render

import "gocv.io/x/gocv"

// Viewer presents an annotated image to the user.
type Viewer interface {
	Show(title string, img gocv.Mat) error
}

// WindowViewer opens a HighGUI window and blocks until a key is pressed.
type WindowViewer struct{}

func (WindowViewer) Show(title string, img gocv.Mat) error {
	window := gocv.NewWindow(title)
	defer window.Close()
	window.IMShow(img)
	window.WaitKey(0)
	return nil
}

// NopViewer is used for headless runs.
type NopViewer struct{}

func (NopViewer) Show(string, gocv.Mat) error { return nil }
