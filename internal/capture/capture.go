// Package capture drives a video device and an on-screen window with OpenCV.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ecovision/resin-classifier/internal/camera"
)

var (
	// ErrDevice is returned when the video device cannot be opened.
	ErrDevice = errors.New("video device error")
	// ErrStreamEnded is returned when an opened device stops delivering frames.
	ErrStreamEnded = errors.New("video stream ended")
)

var (
	boxColor   = color.RGBA{0, 255, 0, 0}
	flashColor = color.RGBA{255, 0, 0, 0}
	textColor  = color.RGBA{0, 255, 0, 0}
	textBack   = color.RGBA{0, 0, 0, 0}
)

const (
	WindowTitle = "Resin Classifier"
	fontScale   = 0.7
	fontWeight  = 2
)

type Loop struct {
	DeviceID int
	Session  *camera.Session
	Log      *logrus.Logger
}

// Run shows the mirrored preview until 'q' is pressed, the context ends or
// the device stops delivering frames.
func (l *Loop) Run(ctx context.Context) error {
	webcam, err := gocv.OpenVideoCapture(l.DeviceID)
	if err != nil {
		return fmt.Errorf("%w: open device %d: %v", ErrDevice, l.DeviceID, err)
	}
	defer webcam.Close()
	if !webcam.IsOpened() {
		return fmt.Errorf("%w: device %d is not open", ErrDevice, l.DeviceID)
	}

	window := gocv.NewWindow(WindowTitle)
	defer window.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	l.Log.WithField("device", l.DeviceID).Info("camera started")
	l.Log.Info("place the object inside the box, press 'c' to classify, 'q' to quit")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if ok := webcam.Read(&frame); !ok || frame.Empty() {
			l.Log.WithField("device", l.DeviceID).Info("no more frames")
			return fmt.Errorf("%w: device %d", ErrStreamEnded, l.DeviceID)
		}
		gocv.Flip(frame, &frame, 1)

		box := camera.CenterSquare(frame.Cols(), frame.Rows())
		display := frame.Clone()
		outline := boxColor
		if l.Session.Tick() {
			outline = flashColor
		}
		gocv.Rectangle(&display, box, outline, 2)
		drawLabel(&display, l.Session.Text(), image.Pt(10, 30))
		window.IMShow(display)
		display.Close()

		switch key := window.WaitKey(1) & 0xFF; key {
		case camera.KeyQuit:
			l.Log.Info("camera closed")
			return nil
		case camera.KeyCapture:
			roi, err := regionImage(frame, box)
			if err != nil {
				l.Log.WithError(err).Warn("cannot extract capture box")
				continue
			}
			// Errors are already shown on screen and logged by the session.
			_, _ = l.Session.Capture(ctx, roi)
		}
	}
}

// regionImage copies the capture box out of the clean, un-annotated frame.
func regionImage(frame gocv.Mat, box image.Rectangle) (image.Image, error) {
	box = box.Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if box.Empty() {
		return nil, errors.New("capture box is outside the frame")
	}
	region := frame.Region(box)
	defer region.Close()
	// A region shares the parent's stride; clone it into contiguous memory.
	roi := region.Clone()
	defer roi.Close()
	return roi.ToImage()
}

// drawLabel writes text on a dark background box for legibility.
func drawLabel(img *gocv.Mat, text string, org image.Point) {
	size, baseline := gocv.GetTextSizeWithBaseline(text, gocv.FontHersheySimplex, fontScale, fontWeight)
	back := image.Rect(org.X-5, org.Y-size.Y-5, org.X+size.X+5, org.Y+baseline+5)
	gocv.Rectangle(img, back, textBack, -1)
	gocv.PutTextWithParams(img, text, org, gocv.FontHersheySimplex, fontScale, textColor, fontWeight, gocv.LineAA, false)
}
