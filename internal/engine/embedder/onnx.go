package embedder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// bertInputs is the input order every supported encoder must accept.
var bertInputs = []string{"input_ids", "attention_mask", "token_type_ids"}

var runtime struct {
	once sync.Once
	err  error
}

// initRuntime loads the shared library once per process.
func initRuntime(lib string) error {
	runtime.once.Do(func() {
		ort.SetSharedLibraryPath(lib)
		runtime.err = ort.InitializeEnvironment()
	})
	return runtime.err
}

// runtimeLibrary prefers ONNXRUNTIME_LIB and falls back to the library next
// to the model file.
func runtimeLibrary(modelPath string) string {
	if lib := os.Getenv("ONNXRUNTIME_LIB"); lib != "" {
		return lib
	}
	return filepath.Join(filepath.Dir(modelPath), "libonnxruntime.so")
}

// session runs a BERT-style encoder that emits [batch, seq, hidden].
type session struct {
	ort    *ort.DynamicAdvancedSession
	output string
	hidden int64
}

func openSession(modelPath string) (*session, error) {
	if err := initRuntime(runtimeLibrary(modelPath)); err != nil {
		return nil, fmt.Errorf("onnx: runtime init: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: model info: %w", err)
	}
	have := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		have[in.Name] = true
	}
	for _, name := range bertInputs {
		if !have[name] {
			return nil, fmt.Errorf("onnx: model missing input %q", name)
		}
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: model has no outputs")
	}
	if d := outputs[0].Dimensions; len(d) != 3 {
		return nil, fmt.Errorf("onnx: output %q has shape %v, want [batch seq hidden]", outputs[0].Name, d)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(4); err != nil {
		return nil, fmt.Errorf("onnx: intra-op threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("onnx: inter-op threads: %w", err)
	}

	s, err := ort.NewDynamicAdvancedSession(modelPath, bertInputs, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}
	return &session{ort: s, output: outputs[0].Name, hidden: outputs[0].Dimensions[2]}, nil
}

// run returns the flattened last hidden state, [rows * width * hidden].
func (s *session) run(b encodedBatch) ([]float32, error) {
	shape := ort.NewShape(b.rows, b.width)
	var inputs []ort.Value
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()
	for i, data := range [][]int64{b.inputIDs, b.attentionMask, b.tokenTypeIDs} {
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("onnx: %s tensor: %w", bertInputs[i], err)
		}
		inputs = append(inputs, t)
	}

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(b.rows, b.width, s.hidden))
	if err != nil {
		return nil, fmt.Errorf("onnx: output tensor: %w", err)
	}
	defer out.Destroy()

	if err := s.ort.Run(inputs, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("onnx: run: %w", err)
	}
	return append([]float32(nil), out.GetData()...), nil
}

func (s *session) close() error {
	return s.ort.Destroy()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
