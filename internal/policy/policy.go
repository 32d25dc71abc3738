// Package policy decides whether a prediction from the camera is shown as a
// result or replaced by guidance for the user.
package policy

import (
	"image"
	"math"

	"github.com/ecovision/resin-classifier/internal/classifier"
)

const (
	DefaultPresenceThreshold   = 8.0
	DefaultConfidenceThreshold = 0.5
)

type Outcome int

const (
	Accepted Outcome = iota
	NoObject
	LowConfidence
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case NoObject:
		return "no_object"
	case LowConfidence:
		return "low_confidence"
	}
	return "unknown"
}

// Decision is the result of running a region through both gates. Prediction
// is the zero value when the presence gate rejected the region.
type Decision struct {
	Outcome    Outcome
	Prediction classifier.Prediction
	StdDev     float64
}

type Policy struct {
	PresenceThreshold   float64
	ConfidenceThreshold float64
}

func Default() Policy {
	return Policy{
		PresenceThreshold:   DefaultPresenceThreshold,
		ConfidenceThreshold: DefaultConfidenceThreshold,
	}
}

// HasObject reports whether the region has enough texture to hold an object.
func (p Policy) HasObject(img image.Image) (bool, float64) {
	if img == nil || img.Bounds().Empty() {
		return false, 0
	}
	std := GrayStdDev(img)
	return std >= p.PresenceThreshold, std
}

// Confident is inclusive: a confidence equal to the threshold passes.
func (p Policy) Confident(pred classifier.Prediction) bool {
	return float64(pred.Confidence) >= p.ConfidenceThreshold
}

// Evaluate applies the presence gate, then classify, then the confidence
// gate. classify is not called for a rejected region.
func (p Policy) Evaluate(img image.Image, classify func(image.Image) (classifier.Prediction, error)) (Decision, error) {
	ok, std := p.HasObject(img)
	if !ok {
		return Decision{Outcome: NoObject, StdDev: std}, nil
	}

	pred, err := classify(img)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Outcome: Accepted, Prediction: pred, StdDev: std}
	if !p.Confident(pred) {
		d.Outcome = LowConfidence
	}
	return d, nil
}

// Gray returns the 8-bit luma of an RGB triple with the fixed-point BT.601
// weights used by common vision libraries, so results match them exactly.
func Gray(r, g, b uint8) uint8 {
	return uint8((uint32(r)*4899 + uint32(g)*9617 + uint32(b)*1868 + 8192) >> 14)
}

// GrayStdDev is the population standard deviation of the luma over img.
func GrayStdDev(img image.Image) float64 {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0
	}

	var hist [256]int
	if rgba, ok := img.(*image.RGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			i := rgba.PixOffset(b.Min.X, y)
			for x := 0; x < b.Dx(); x++ {
				px := rgba.Pix[i+x*4 : i+x*4+3]
				hist[Gray(px[0], px[1], px[2])]++
			}
		}
	} else {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := img.At(x, y).RGBA()
				hist[Gray(uint8(r>>8), uint8(g>>8), uint8(bl>>8))]++
			}
		}
	}

	var sum float64
	for v, c := range hist {
		sum += float64(v) * float64(c)
	}
	mean := sum / float64(n)
	var sq float64
	for v, c := range hist {
		d := float64(v) - mean
		sq += d * d * float64(c)
	}
	return math.Sqrt(sq / float64(n))
}
