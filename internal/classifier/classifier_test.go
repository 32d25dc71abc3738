package classifier_test

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/ecovision/resin-classifier/internal/classifier"
	"github.com/ecovision/resin-classifier/internal/classifier/classifiertest"
	"github.com/ecovision/resin-classifier/internal/labels"
	"github.com/ecovision/resin-classifier/internal/model"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 255 / w), uint8(y * 255 / h), uint8((x + y) % 256), 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newClassifier() (*classifier.Classifier, *classifiertest.Predictor) {
	p := &classifiertest.Predictor{}
	return classifier.New(p, model.DefaultTopology()), p
}

func TestPreprocessShapeAndOrder(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 224, 224))
	img.SetRGBA(0, 0, color.RGBA{10, 20, 30, 255})

	in, err := classifier.Preprocess(img, 224)
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	if len(in) != 1*224*224*3 {
		t.Fatalf("expected %d values, got %d", 224*224*3, len(in))
	}
	if in[0] != 10 || in[1] != 20 || in[2] != 30 {
		t.Fatalf("first pixel not RGB-interleaved 0..255: %v", in[:3])
	}
}

func TestResizeIsIdempotentAtTargetSize(t *testing.T) {
	once := classifier.Resize(gradient(640, 480), 224)
	twice := classifier.Resize(once, 224)
	if !bytes.Equal(once.Pix, twice.Pix) {
		t.Fatal("resizing a 224x224 image to 224x224 changed pixels")
	}
}

func TestResizeFromArbitrarySize(t *testing.T) {
	for _, sz := range [][2]int{{1, 1}, {3, 500}, {1024, 768}} {
		out := classifier.Resize(gradient(sz[0], sz[1]), 224)
		if out.Bounds().Dx() != 224 || out.Bounds().Dy() != 224 {
			t.Errorf("%v: got %v", sz, out.Bounds())
		}
	}
}

func TestReduce(t *testing.T) {
	p, err := classifier.Reduce([]float32{0.1, 0.2, 0.5, 0.1, 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if p.Label != labels.PET || p.Confidence != 0.5 {
		t.Fatalf("got %s %v", p.Label, p.Confidence)
	}

	tie, _ := classifier.Reduce([]float32{0.4, 0.4, 0.1, 0.05, 0.05})
	if tie.Label != labels.PC {
		t.Fatalf("ties should resolve to the first index, got %s", tie.Label)
	}

	if _, err := classifier.Reduce([]float32{0.5, 0.5}); !errors.Is(err, classifier.ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c, _ := newClassifier()
	data := encodePNG(t, gradient(300, 200))

	first, err := c.ClassifyBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		again, err := c.ClassifyBytes(data)
		if err != nil {
			t.Fatal(err)
		}
		if again.Label != first.Label || again.Confidence != first.Confidence {
			t.Fatalf("run %d: %v != %v", i, again, first)
		}
	}
}

func TestClassifyOutputInvariants(t *testing.T) {
	c, _ := newClassifier()
	imgs := []image.Image{gradient(1, 1), gradient(50, 80), image.NewRGBA(image.Rect(0, 0, 10, 10))}
	for _, img := range imgs {
		p, err := c.Classify(img)
		if err != nil {
			t.Fatal(err)
		}
		if !p.Label.Valid() {
			t.Errorf("invalid label %q", p.Label)
		}
		if p.Confidence < 0 || p.Confidence > 1 {
			t.Errorf("confidence %v out of range", p.Confidence)
		}
		var sum float64
		for _, v := range p.Probabilities {
			sum += float64(v)
		}
		if math.Abs(sum-1) > 1e-5 {
			t.Errorf("probabilities sum to %v", sum)
		}
	}
}

func TestClassifyOnePixelImage(t *testing.T) {
	c, _ := newClassifier()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradient(1, 1), nil); err != nil {
		t.Fatal(err)
	}
	p, err := c.ClassifyBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("1x1 image: %v", err)
	}
	if !p.Label.Valid() {
		t.Fatalf("invalid label %q", p.Label)
	}
}

func TestDataURIAndBarePayloadMatch(t *testing.T) {
	c, _ := newClassifier()
	payload := base64.StdEncoding.EncodeToString(encodePNG(t, gradient(64, 64)))

	bare, err := c.ClassifyBase64(payload)
	if err != nil {
		t.Fatal(err)
	}
	prefixed, err := c.ClassifyBase64("data:image/jpeg;base64," + payload)
	if err != nil {
		t.Fatal(err)
	}
	if bare.Label != prefixed.Label || bare.Confidence != prefixed.Confidence {
		t.Fatalf("prefix changed the prediction: %v vs %v", bare, prefixed)
	}
}

func TestDecodeBase64(t *testing.T) {
	raw := []byte("resin")
	padded := base64.StdEncoding.EncodeToString(raw)
	unpadded := base64.RawStdEncoding.EncodeToString(raw)

	for _, in := range []string{padded, unpadded, "data:image/png;base64," + padded, padded[:3] + "\n" + padded[3:]} {
		got, err := classifier.DecodeBase64(in)
		if err != nil {
			t.Errorf("%q: %v", in, err)
			continue
		}
		if !bytes.Equal(got, raw) {
			t.Errorf("%q: got %q", in, got)
		}
	}

	for _, in := range []string{"", "data:image/png;base64,", "!!!not base64!!!"} {
		if _, err := classifier.DecodeBase64(in); !errors.Is(err, classifier.ErrDecode) {
			t.Errorf("%q: expected ErrDecode, got %v", in, err)
		}
	}
}

func TestClassifyBytesRejectsGarbage(t *testing.T) {
	c, p := newClassifier()
	if _, err := c.ClassifyBytes([]byte("definitely not an image")); !errors.Is(err, classifier.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if p.Calls() != 0 {
		t.Fatal("inference ran on undecodable input")
	}
}

func TestClassifyPropagatesInferenceError(t *testing.T) {
	p := &classifiertest.Predictor{Err: errors.New("session gone")}
	c := classifier.New(p, model.DefaultTopology())
	if _, err := c.Classify(gradient(10, 10)); err == nil {
		t.Fatal("expected inference error")
	}
}

func TestClassifyRejectsWrongOutputSize(t *testing.T) {
	p := &classifiertest.Predictor{Fixed: []float32{0.5, 0.5, 0}}
	c := classifier.New(p, model.DefaultTopology())
	if _, err := c.Classify(gradient(10, 10)); !errors.Is(err, classifier.ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

func TestByLabel(t *testing.T) {
	p, _ := classifier.Reduce([]float32{0.1, 0.2, 0.3, 0.25, 0.15})
	m := p.ByLabel()
	if len(m) != 5 || m["PET"] != 0.3 || m["PS"] != 0.15 {
		t.Fatalf("unexpected map %v", m)
	}
}

func TestDecodeRejectsOversizedRaster(t *testing.T) {
	bomb := classifiertest.OversizedPNG(16000, 16000)
	if len(bomb) > 1024 {
		t.Fatalf("expected a tiny payload, got %d bytes", len(bomb))
	}
	if _, err := classifier.Decode(bomb); !errors.Is(err, classifier.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}

	c, p := newClassifier()
	if _, err := c.ClassifyBytes(bomb); !errors.Is(err, classifier.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if p.Calls() != 0 {
		t.Fatal("inference ran on an oversized raster")
	}
}

func TestDecodeLimitedBoundary(t *testing.T) {
	data := encodePNG(t, gradient(20, 10))

	if _, err := classifier.DecodeLimited(data, 200); err != nil {
		t.Fatalf("image at the limit rejected: %v", err)
	}
	if _, err := classifier.DecodeLimited(data, 199); !errors.Is(err, classifier.ErrDecode) {
		t.Fatalf("expected ErrDecode above the limit, got %v", err)
	}
	if _, err := classifier.DecodeLimited(data, 0); err != nil {
		t.Fatalf("zero limit should disable the check: %v", err)
	}

	p := &classifiertest.Predictor{}
	c := classifier.New(p, model.DefaultTopology(), classifier.WithMaxPixels(100))
	if _, err := c.ClassifyBytes(data); !errors.Is(err, classifier.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if p.Calls() != 0 {
		t.Fatal("inference ran past the pixel limit")
	}
}

func TestClassifyRejectsInputShapeMismatch(t *testing.T) {
	topo := model.DefaultTopology()
	topo.Channels = 4

	p := &classifiertest.Predictor{}
	c := classifier.New(p, topo)
	if _, err := c.Classify(gradient(10, 10)); !errors.Is(err, classifier.ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
	if p.Calls() != 0 {
		t.Fatal("inference ran on a mis-shaped input")
	}
}
