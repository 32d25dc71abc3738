// Package classifier turns images into resin predictions: decode, resize to
// the network input, one forward pass, arg-max.
package classifier

import (
	"fmt"
	"image"
	"math"

	"github.com/ecovision/resin-classifier/internal/labels"
	"github.com/ecovision/resin-classifier/internal/model"
)

// Predictor runs one forward pass over a batched input tensor.
// *model.Server implements it.
type Predictor interface {
	Predict(input []float32) ([]float32, error)
}

type Prediction struct {
	Label         labels.ClassLabel `json:"class"`
	Confidence    float32           `json:"confidence"`
	Probabilities []float32         `json:"probabilities,omitempty"`
}

// ByLabel keys the probabilities by class name.
func (p Prediction) ByLabel() map[string]float32 {
	out := make(map[string]float32, len(p.Probabilities))
	for i, v := range p.Probabilities {
		if l, ok := labels.FromIndex(i); ok {
			out[string(l)] = v
		}
	}
	return out
}

// Reduce picks the most probable class. The first index wins ties.
func Reduce(vec []float32) (Prediction, error) {
	if len(vec) != labels.Count() {
		return Prediction{}, fmt.Errorf("%w: output has %d values, expected %d", ErrShape, len(vec), labels.Count())
	}

	maxIdx := 0
	maxVal := vec[0]
	for i, val := range vec {
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}

	label, _ := labels.FromIndex(maxIdx)
	probs := make([]float32, len(vec))
	copy(probs, vec)
	return Prediction{
		Label:         label,
		Confidence:    clampUnit(maxVal),
		Probabilities: probs,
	}, nil
}

func clampUnit(v float32) float32 {
	switch {
	case math.IsNaN(float64(v)), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

type Classifier struct {
	predictor Predictor
	size      int
	inputLen  int
	maxPixels int64
}

type Option func(*Classifier)

// WithMaxPixels bounds the decoded raster size of encoded inputs.
func WithMaxPixels(n int64) Option {
	return func(c *Classifier) { c.maxPixels = n }
}

func New(p Predictor, t model.Topology, opts ...Option) *Classifier {
	n := int64(1)
	for _, d := range t.InputShape() {
		n *= d
	}
	c := &Classifier{predictor: p, size: t.ImageSize, inputLen: int(n), maxPixels: DefaultMaxPixels}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify runs the whole pipeline on a decoded image.
func (c *Classifier) Classify(img image.Image) (Prediction, error) {
	input, err := Preprocess(img, c.size)
	if err != nil {
		return Prediction{}, err
	}
	if len(input) != c.inputLen {
		return Prediction{}, fmt.Errorf("%w: input has %d values, model expects %d", ErrShape, len(input), c.inputLen)
	}

	vec, err := c.predictor.Predict(input)
	if err != nil {
		return Prediction{}, err
	}
	return Reduce(vec)
}

func (c *Classifier) ClassifyBytes(data []byte) (Prediction, error) {
	img, err := DecodeLimited(data, c.maxPixels)
	if err != nil {
		return Prediction{}, err
	}
	return c.Classify(img)
}

func (c *Classifier) ClassifyBase64(s string) (Prediction, error) {
	data, err := DecodeBase64(s)
	if err != nil {
		return Prediction{}, err
	}
	return c.ClassifyBytes(data)
}
