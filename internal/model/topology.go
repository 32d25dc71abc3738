package model

import (
	"errors"
	"fmt"
)

// TopologyName identifies the resin classifier graph.
const TopologyName = "resin_mobilenet_v2_l2"

type StageKind string

const (
	StageInput         StageKind = "input"
	StageAugmentation  StageKind = "augmentation"
	StagePreprocess    StageKind = "preprocess"
	StageBackbone      StageKind = "backbone"
	StageGlobalAvgPool StageKind = "global_average_pooling_2d"
	StageDropout       StageKind = "dropout"
	StageDense         StageKind = "dense"
)

type Activation string

const (
	ActivationReLU    Activation = "relu"
	ActivationSoftmax Activation = "softmax"
)

// Augmentation is one random transform applied while training.
type Augmentation struct {
	Kind   string  `json:"kind"`
	Mode   string  `json:"mode,omitempty"`
	Factor float64 `json:"factor,omitempty"`
}

// Stage is one named node of the layer graph. Only the fields relevant to
// its Kind are set.
type Stage struct {
	Name string    `json:"name"`
	Kind StageKind `json:"kind"`

	// TrainingOnly stages are the identity at inference time.
	TrainingOnly bool `json:"training_only,omitempty"`

	Shape         []int64        `json:"shape,omitempty"`
	Augmentations []Augmentation `json:"augmentations,omitempty"`

	// Backbone and its input scaling.
	Architecture string `json:"architecture,omitempty"`
	Weights      string `json:"weights,omitempty"`
	Trainable    bool   `json:"trainable,omitempty"`
	Scaling      string `json:"scaling,omitempty"`

	Rate       float64    `json:"rate,omitempty"`
	Units      int        `json:"units,omitempty"`
	Activation Activation `json:"activation,omitempty"`
	L2         float64    `json:"l2,omitempty"`
}

// Hyperparams fixes everything BuildTopology depends on.
type Hyperparams struct {
	ImageSize   int
	Channels    int
	NumClasses  int
	Dropout     float64
	L2          float64
	HiddenUnits int
	FlipMode    string
	Rotation    float64
	Zoom        float64
}

func DefaultHyperparams() Hyperparams {
	return Hyperparams{
		ImageSize:   224,
		Channels:    3,
		NumClasses:  5,
		Dropout:     0.4,
		L2:          0.001,
		HiddenUnits: 512,
		FlipMode:    "horizontal",
		Rotation:    0.1,
		Zoom:        0.1,
	}
}

// Topology is the ordered layer graph of the classifier.
type Topology struct {
	Name       string  `json:"name"`
	ImageSize  int     `json:"image_size"`
	Channels   int     `json:"channels"`
	NumClasses int     `json:"num_classes"`
	Stages     []Stage `json:"stages"`
}

// BuildTopology lays out augmentation, the MobileNetV2 backbone with its
// own input scaling, pooling and the dense head. Identical hyperparameters
// always produce an identical graph.
func BuildTopology(hp Hyperparams) Topology {
	size := int64(hp.ImageSize)
	ch := int64(hp.Channels)
	return Topology{
		Name:       TopologyName,
		ImageSize:  hp.ImageSize,
		Channels:   hp.Channels,
		NumClasses: hp.NumClasses,
		Stages: []Stage{
			{Name: "input", Kind: StageInput, Shape: []int64{size, size, ch}},
			{
				Name:         "data_augmentation",
				Kind:         StageAugmentation,
				TrainingOnly: true,
				Augmentations: []Augmentation{
					{Kind: "random_flip", Mode: hp.FlipMode},
					{Kind: "random_rotation", Factor: hp.Rotation},
					{Kind: "random_zoom", Factor: hp.Zoom},
				},
			},
			{Name: "mobilenet_v2_preprocess", Kind: StagePreprocess, Scaling: "mobilenet_v2"},
			{
				Name:         fmt.Sprintf("mobilenetv2_1.00_%d", hp.ImageSize),
				Kind:         StageBackbone,
				Architecture: "MobileNetV2",
				Weights:      "imagenet",
				Trainable:    true,
				Shape:        []int64{size, size, ch},
			},
			{Name: "global_average_pooling2d", Kind: StageGlobalAvgPool},
			{Name: "dropout", Kind: StageDropout, TrainingOnly: true, Rate: hp.Dropout},
			{Name: "dense_hidden", Kind: StageDense, Units: hp.HiddenUnits, Activation: ActivationReLU, L2: hp.L2},
			{Name: "dense_output", Kind: StageDense, Units: hp.NumClasses, Activation: ActivationSoftmax, L2: hp.L2},
		},
	}
}

func DefaultTopology() Topology {
	return BuildTopology(DefaultHyperparams())
}

// InputShape is the batched NHWC float32 input the network accepts.
func (t Topology) InputShape() []int64 {
	return []int64{1, int64(t.ImageSize), int64(t.ImageSize), int64(t.Channels)}
}

func (t Topology) OutputShape() []int64 {
	return []int64{1, int64(t.NumClasses)}
}

// InferenceStages drops the stages that are the identity outside training.
func (t Topology) InferenceStages() []Stage {
	out := make([]Stage, 0, len(t.Stages))
	for _, s := range t.Stages {
		if !s.TrainingOnly {
			out = append(out, s)
		}
	}
	return out
}

func (t Topology) Validate() error {
	if t.ImageSize <= 0 || t.Channels <= 0 {
		return fmt.Errorf("invalid input %dx%dx%d", t.ImageSize, t.ImageSize, t.Channels)
	}
	if t.NumClasses <= 0 {
		return fmt.Errorf("invalid class count %d", t.NumClasses)
	}
	if len(t.Stages) == 0 {
		return errors.New("topology has no stages")
	}
	if t.Stages[0].Kind != StageInput {
		return fmt.Errorf("first stage is %s, expected %s", t.Stages[0].Kind, StageInput)
	}
	seen := make(map[string]bool, len(t.Stages))
	for _, s := range t.Stages {
		if s.Name == "" {
			return fmt.Errorf("unnamed %s stage", s.Kind)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage name %q", s.Name)
		}
		seen[s.Name] = true
		switch s.Kind {
		case StageDropout:
			if s.Rate < 0 || s.Rate >= 1 {
				return fmt.Errorf("stage %s: dropout rate %v out of [0,1)", s.Name, s.Rate)
			}
		case StageDense:
			if s.Units <= 0 {
				return fmt.Errorf("stage %s: dense layer needs units", s.Name)
			}
		}
	}
	last := t.Stages[len(t.Stages)-1]
	if last.Kind != StageDense || last.Activation != ActivationSoftmax {
		return fmt.Errorf("last stage %s must be a softmax dense layer", last.Name)
	}
	if last.Units != t.NumClasses {
		return fmt.Errorf("output layer has %d units, expected %d classes", last.Units, t.NumClasses)
	}
	return nil
}

// CheckShape compares a shape declared by the artifact with the expected
// one. Non-positive declared dimensions are dynamic and match anything.
func CheckShape(what string, declared, expected []int64) error {
	if len(declared) != len(expected) {
		return fmt.Errorf("%s shape %v has rank %d, expected %v", what, declared, len(declared), expected)
	}
	for i := range declared {
		if declared[i] <= 0 {
			continue
		}
		if declared[i] != expected[i] {
			return fmt.Errorf("%s shape %v does not match %v (dim %d)", what, declared, expected, i)
		}
	}
	return nil
}
