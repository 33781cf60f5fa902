package embedder

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func safetensors(header string, weights []float32) []byte {
	buf := make([]byte, 8, 8+len(header)+4*len(weights))
	binary.LittleEndian.PutUint64(buf, uint64(len(header)))
	buf = append(buf, header...)
	for _, w := range weights {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(w))
	}
	return buf
}

func TestParseDense(t *testing.T) {
	// 3x2 matrix, row-major.
	blob := safetensors(
		`{"linear.weight":{"dtype":"F32","shape":[3,2],"data_offsets":[0,24]}}`,
		[]float32{1, 0, 0, 1, 1, 1},
	)
	d, err := parseDense(blob)
	if err != nil {
		t.Fatalf("parseDense: %v", err)
	}
	if d.in != 2 || d.out != 3 {
		t.Fatalf("shape = [%d %d], want [3 2]", d.out, d.in)
	}
	got := d.apply([]float32{2, 5})
	want := []float32{2, 5, 7}
	for i := range want {
		if !closeEnough(got[i], want[i]) {
			t.Errorf("y[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestParseDenseErrors(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{"truncated", []byte{1, 2, 3}},
		{"header overflow", safetensors(`{}`, nil)[:9]},
		{"missing tensor", safetensors(`{"other":{}}`, nil)},
		{"wrong dtype", safetensors(`{"linear.weight":{"dtype":"F16","shape":[1,1],"data_offsets":[0,2]}}`, []float32{0})},
		{"size mismatch", safetensors(`{"linear.weight":{"dtype":"F32","shape":[2,2],"data_offsets":[0,8]}}`, []float32{1, 2})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseDense(tt.blob); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadDenseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	blob := safetensors(`{"linear.weight":{"dtype":"F32","shape":[1,1],"data_offsets":[0,4]}}`, []float32{3})
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := loadDense(path)
	if err != nil {
		t.Fatalf("loadDense: %v", err)
	}
	if got := d.apply([]float32{2}); !closeEnough(got[0], 6) {
		t.Errorf("apply = %v, want [6]", got)
	}
	if !fileExists(path) || fileExists(filepath.Dir(path)) {
		t.Error("fileExists should be true for files and false for directories")
	}
}
