package model

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaultTopology(t *testing.T) {
	topo := DefaultTopology()
	if err := topo.Validate(); err != nil {
		t.Fatalf("default topology invalid: %v", err)
	}

	kinds := make([]StageKind, len(topo.Stages))
	for i, s := range topo.Stages {
		kinds[i] = s.Kind
	}
	want := []StageKind{
		StageInput, StageAugmentation, StagePreprocess, StageBackbone,
		StageGlobalAvgPool, StageDropout, StageDense, StageDense,
	}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("stage order %v, want %v", kinds, want)
	}

	hidden := topo.Stages[6]
	if hidden.Units != 512 || hidden.Activation != ActivationReLU || hidden.L2 != 0.001 {
		t.Errorf("unexpected hidden layer %+v", hidden)
	}
	out := topo.Stages[7]
	if out.Units != 5 || out.Activation != ActivationSoftmax || out.L2 != 0.001 {
		t.Errorf("unexpected output layer %+v", out)
	}
	if topo.Stages[5].Rate != 0.4 {
		t.Errorf("dropout rate %v, want 0.4", topo.Stages[5].Rate)
	}
	if !topo.Stages[3].Trainable {
		t.Error("backbone should be trainable")
	}
}

func TestBuildTopologyDeterministic(t *testing.T) {
	a := BuildTopology(DefaultHyperparams())
	b := BuildTopology(DefaultHyperparams())
	if !reflect.DeepEqual(a, b) {
		t.Fatal("identical hyperparameters produced different graphs")
	}
}

func TestInferenceStagesSkipTrainingOnly(t *testing.T) {
	for _, s := range DefaultTopology().InferenceStages() {
		if s.Kind == StageAugmentation || s.Kind == StageDropout {
			t.Errorf("stage %s should be inert at inference", s.Name)
		}
	}
}

func TestShapes(t *testing.T) {
	topo := DefaultTopology()
	if got := topo.InputShape(); !reflect.DeepEqual(got, []int64{1, 224, 224, 3}) {
		t.Errorf("input shape %v", got)
	}
	if got := topo.OutputShape(); !reflect.DeepEqual(got, []int64{1, 5}) {
		t.Errorf("output shape %v", got)
	}
}

func TestValidateRejectsMismatchedHead(t *testing.T) {
	hp := DefaultHyperparams()
	topo := BuildTopology(hp)
	topo.NumClasses = 4
	if err := topo.Validate(); err == nil {
		t.Fatal("expected error for head/class mismatch")
	}

	hp.Dropout = 1.5
	if err := BuildTopology(hp).Validate(); err == nil {
		t.Fatal("expected error for dropout rate out of range")
	}
}

func TestCheckShape(t *testing.T) {
	want := []int64{1, 224, 224, 3}
	if err := CheckShape("input", []int64{-1, 224, 224, 3}, want); err != nil {
		t.Errorf("dynamic batch should match: %v", err)
	}
	if err := CheckShape("input", []int64{1, 3, 224, 224}, want); err == nil {
		t.Error("NCHW artifact should not match an NHWC topology")
	}
	if err := CheckShape("input", []int64{224, 224, 3}, want); err == nil {
		t.Error("rank mismatch should fail")
	}
}

func TestMetadataCheck(t *testing.T) {
	topo := DefaultTopology()
	good := &Metadata{
		InputShape:  []int64{-1, 224, 224, 3},
		OutputShape: []int64{-1, 5},
		Classes:     []string{"PC", "PE", "PET", "PP", "PS"},
		ImageSize:   224,
	}
	if err := good.Check(topo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	swapped := *good
	swapped.Classes = []string{"PC", "PE", "PP", "PET", "PS"}
	if err := swapped.Check(topo); err == nil {
		t.Error("swapped classes should be rejected")
	}

	resized := *good
	resized.ImageSize = 256
	if err := resized.Check(topo); err == nil {
		t.Error("image size mismatch should be rejected")
	}

	other := *good
	other.Topology = "fer_cnn"
	if err := other.Check(topo); err == nil {
		t.Error("foreign topology name should be rejected")
	}

	var none *Metadata
	if err := none.Check(topo); err != nil {
		t.Errorf("absent metadata should pass: %v", err)
	}
}

func TestReadMetadataMissingFile(t *testing.T) {
	md, err := ReadMetadata(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil || md != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", md, err)
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	_, err := Load(DefaultTopology(), Options{ModelPath: filepath.Join(t.TempDir(), "model.onnx")})
	if !errors.Is(err, ErrStartup) {
		t.Fatalf("expected ErrStartup, got %v", err)
	}
}

func TestLoadRejectsMetadataMismatch(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.onnx")
	if err := os.WriteFile(modelPath, []byte("not read before metadata"), 0644); err != nil {
		t.Fatal(err)
	}
	metaPath := filepath.Join(dir, "model_metadata.json")
	meta := `{"classes": ["PE", "PC", "PET", "PP", "PS"], "image_size": 224}`
	if err := os.WriteFile(metaPath, []byte(meta), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(DefaultTopology(), Options{ModelPath: modelPath, MetadataPath: metaPath})
	if !errors.Is(err, ErrStartup) {
		t.Fatalf("expected ErrStartup, got %v", err)
	}
}
