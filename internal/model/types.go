package model

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/ecovision/resin-classifier/internal/labels"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Metadata is the optional sidecar written next to the exported artifact.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	Topology    string   `json:"topology,omitempty"`
	InputName   string   `json:"input_name,omitempty"`
	OutputName  string   `json:"output_name,omitempty"`
}

// ReadMetadata loads the sidecar. A missing file yields (nil, nil).
func ReadMetadata(path string) (*Metadata, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &md, nil
}

// Check verifies that the sidecar describes the topology and the canonical
// class order.
func (m *Metadata) Check(t Topology) error {
	if m == nil {
		return nil
	}
	if len(m.Classes) > 0 {
		if err := labels.VerifyOrder(m.Classes); err != nil {
			return fmt.Errorf("metadata classes: %w", err)
		}
	}
	if m.Topology != "" && m.Topology != t.Name {
		return fmt.Errorf("metadata topology %q, expected %q", m.Topology, t.Name)
	}
	if m.ImageSize != 0 && m.ImageSize != t.ImageSize {
		return fmt.Errorf("metadata image size %d, topology expects %d", m.ImageSize, t.ImageSize)
	}
	if len(m.InputShape) > 0 {
		if err := CheckShape("metadata input", m.InputShape, t.InputShape()); err != nil {
			return err
		}
	}
	if len(m.OutputShape) > 0 {
		if err := CheckShape("metadata output", m.OutputShape, t.OutputShape()); err != nil {
			return err
		}
	}
	return nil
}
