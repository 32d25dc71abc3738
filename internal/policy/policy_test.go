package policy

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/ecovision/resin-classifier/internal/classifier"
	"github.com/ecovision/resin-classifier/internal/labels"
)

func flat(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

func checkerboard(w, h, cell int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{0, 0, 0, 255}
			if (x/cell+y/cell)%2 == 0 {
				c = color.RGBA{255, 255, 255, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestGrayMatchesKnownValues(t *testing.T) {
	cases := []struct {
		r, g, b uint8
		want    uint8
	}{
		{0, 0, 0, 0},
		{255, 255, 255, 255},
		{255, 0, 0, 76},
		{0, 255, 0, 150},
		{0, 0, 255, 29},
		{128, 128, 128, 128},
	}
	for _, c := range cases {
		if got := Gray(c.r, c.g, c.b); got != c.want {
			t.Errorf("Gray(%d,%d,%d) = %d, want %d", c.r, c.g, c.b, got, c.want)
		}
	}
}

func TestGrayStdDev(t *testing.T) {
	if std := GrayStdDev(flat(40, 40, 128)); std != 0 {
		t.Fatalf("flat region std %v, want 0", std)
	}
	if std := GrayStdDev(checkerboard(40, 40, 5)); math.Abs(std-127.5) > 1e-9 {
		t.Fatalf("checkerboard std %v, want 127.5", std)
	}
}

func TestGrayStdDevSubImageAndGenericPath(t *testing.T) {
	board := checkerboard(80, 80, 5)
	sub := board.SubImage(image.Rect(20, 20, 60, 60))
	want := GrayStdDev(checkerboard(40, 40, 5))
	if got := GrayStdDev(sub); got != want {
		t.Fatalf("sub-image std %v, want %v", got, want)
	}

	nrgba := image.NewNRGBA(board.Bounds())
	for y := 0; y < 80; y++ {
		for x := 0; x < 80; x++ {
			nrgba.Set(x, y, board.At(x, y))
		}
	}
	if got := GrayStdDev(nrgba); got != GrayStdDev(board) {
		t.Fatalf("generic path %v differs from RGBA path %v", got, GrayStdDev(board))
	}
}

func TestPresenceGate(t *testing.T) {
	p := Default()
	if ok, _ := p.HasObject(flat(64, 64, 90)); ok {
		t.Error("flat gray region should be rejected")
	}
	if ok, std := p.HasObject(checkerboard(64, 64, 8)); !ok {
		t.Errorf("checkerboard (std %v) should be accepted", std)
	}
	if ok, _ := p.HasObject(image.NewRGBA(image.Rectangle{})); ok {
		t.Error("empty region should be rejected")
	}
}

func TestConfidenceBoundaryIsInclusive(t *testing.T) {
	p := Default()
	if !p.Confident(classifier.Prediction{Label: labels.PE, Confidence: 0.5}) {
		t.Error("confidence exactly 0.5 must pass")
	}
	if p.Confident(classifier.Prediction{Label: labels.PE, Confidence: 0.499999}) {
		t.Error("confidence 0.499999 must be rejected")
	}
}

func TestEvaluate(t *testing.T) {
	p := Default()
	calls := 0
	classify := func(conf float32) func(image.Image) (classifier.Prediction, error) {
		return func(image.Image) (classifier.Prediction, error) {
			calls++
			return classifier.Prediction{Label: labels.PP, Confidence: conf}, nil
		}
	}

	d, err := p.Evaluate(flat(32, 32, 200), classify(0.9))
	if err != nil || d.Outcome != NoObject {
		t.Fatalf("flat: got %v, %v", d.Outcome, err)
	}
	if calls != 0 {
		t.Fatal("inference ran on a rejected region")
	}

	d, _ = p.Evaluate(checkerboard(32, 32, 4), classify(0.3))
	if d.Outcome != LowConfidence || d.Prediction.Label != labels.PP {
		t.Fatalf("low confidence: got %+v", d)
	}

	d, _ = p.Evaluate(checkerboard(32, 32, 4), classify(0.5))
	if d.Outcome != Accepted {
		t.Fatalf("boundary: got %v", d.Outcome)
	}

	failing := func(image.Image) (classifier.Prediction, error) {
		return classifier.Prediction{}, errors.New("boom")
	}
	if _, err := p.Evaluate(checkerboard(32, 32, 4), failing); err == nil {
		t.Fatal("expected inference error to propagate")
	}
}

func TestOutcomeString(t *testing.T) {
	for o, want := range map[Outcome]string{Accepted: "accepted", NoObject: "no_object", LowConfidence: "low_confidence"} {
		if o.String() != want {
			t.Errorf("%d: %s", o, o.String())
		}
	}
}
