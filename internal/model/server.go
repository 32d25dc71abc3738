package model

import (
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	// ErrStartup marks every failure that keeps the model from being served.
	ErrStartup = errors.New("model startup failure")
	// ErrClosed is returned by Predict after Close.
	ErrClosed = errors.New("model server is closed")
)

// Runtime environment hooks, replaced in tests.
var (
	envInitialized = ort.IsInitialized
	envInitialize  = func() error { return ort.InitializeEnvironment() }
	envDestroy     = func() error { return ort.DestroyEnvironment() }
	artifactInfo   = ort.GetInputOutputInfo
)

type Options struct {
	ModelPath    string
	MetadataPath string
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// runtime's default lookup.
	LibraryPath string
}

// Server is the loaded network. It is built once at startup and shared by
// every request; Predict serializes access to the bound tensors.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Topology     Topology
	Metadata     *Metadata
	inputName    string
	outputName   string
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	// ownsEnv is set when this server started the runtime environment.
	ownsEnv      bool
}

func startupErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStartup, fmt.Sprintf(format, args...))
}

// Load builds the session for t from the exported artifact and checks that
// the artifact really is t: same input and output shapes, same classes.
func Load(t Topology, opts Options) (*Server, error) {
	if err := t.Validate(); err != nil {
		return nil, startupErr("invalid topology: %v", err)
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, startupErr("weights artifact %s: %v", opts.ModelPath, err)
	}

	metadata, err := ReadMetadata(opts.MetadataPath)
	if err != nil {
		return nil, startupErr("%v", err)
	}
	if err := metadata.Check(t); err != nil {
		return nil, startupErr("%v", err)
	}

	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	ownsEnv := false
	if !envInitialized() {
		if err := envInitialize(); err != nil {
			return nil, startupErr("failed to initialize ONNX environment: %v", err)
		}
		ownsEnv = true
	}
	release := func() {
		if ownsEnv {
			envDestroy()
		}
	}

	inputName, outputName, err := inspectArtifact(t, opts.ModelPath, metadata)
	if err != nil {
		release()
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(t.InputShape()...))
	if err != nil {
		release()
		return nil, startupErr("failed to create input tensor: %v", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(t.OutputShape()...))
	if err != nil {
		inputTensor.Destroy()
		release()
		return nil, startupErr("failed to create output tensor: %v", err)
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{inputName}, []string{outputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		release()
		return nil, startupErr("failed to create ONNX session: %v", err)
	}

	return &Server{
		session:      session,
		Topology:     t,
		Metadata:     metadata,
		inputName:    inputName,
		outputName:   outputName,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		ownsEnv:      ownsEnv,
	}, nil
}

// inspectArtifact reads the declared inputs and outputs of the artifact
// without creating a session and picks the tensor names to bind.
func inspectArtifact(t Topology, path string, md *Metadata) (string, string, error) {
	inputs, outputs, err := artifactInfo(path)
	if err != nil {
		return "", "", startupErr("failed to read artifact %s: %v", path, err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return "", "", startupErr("artifact declares %d inputs and %d outputs, expected 1 and 1", len(inputs), len(outputs))
	}
	in, out := inputs[0], outputs[0]
	if md != nil && md.InputName != "" && md.InputName != in.Name {
		return "", "", startupErr("artifact input is %q, metadata says %q", in.Name, md.InputName)
	}
	if md != nil && md.OutputName != "" && md.OutputName != out.Name {
		return "", "", startupErr("artifact output is %q, metadata says %q", out.Name, md.OutputName)
	}
	if in.DataType != ort.TensorElementDataTypeFloat || out.DataType != ort.TensorElementDataTypeFloat {
		return "", "", startupErr("artifact tensors must be float32, got %v -> %v", in.DataType, out.DataType)
	}
	if err := CheckShape("artifact input", []int64(in.Dimensions), t.InputShape()); err != nil {
		return "", "", startupErr("%v", err)
	}
	if err := CheckShape("artifact output", []int64(out.Dimensions), t.OutputShape()); err != nil {
		return "", "", startupErr("%v", err)
	}
	return in.Name, out.Name, nil
}

// Predict runs one forward pass and returns a copy of the output vector.
func (s *Server) Predict(input []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil || s.inputTensor == nil || s.outputTensor == nil {
		return nil, ErrClosed
	}

	data := s.inputTensor.GetData()
	if len(input) != len(data) {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(input), len(data))
	}
	copy(data, input)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := make([]float32, len(s.outputTensor.GetData()))
	copy(out, s.outputTensor.GetData())
	return out, nil
}

func (s *Server) InputName() string  { return s.inputName }
func (s *Server) OutputName() string { return s.outputName }

func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.ownsEnv {
		envDestroy()
		s.ownsEnv = false
	}
}
