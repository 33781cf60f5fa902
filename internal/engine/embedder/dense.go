package embedder

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/valyala/fastjson"
)

const denseTensor = "linear.weight"

// dense is a bias-free linear head stored as a row-major [out x in] matrix.
// sentence-transformers ships it as 2_Dense/model.safetensors.
type dense struct {
	w   []float32
	in  int
	out int
}

func loadDense(path string) (*dense, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dense: %w", err)
	}
	return parseDense(data)
}

// parseDense decodes a safetensors blob: little-endian uint64 header size,
// JSON header, then raw tensor bytes.
func parseDense(data []byte) (*dense, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("dense: truncated file (%d bytes)", len(data))
	}
	hlen := binary.LittleEndian.Uint64(data[:8])
	if hlen > uint64(len(data)-8) {
		return nil, fmt.Errorf("dense: header length %d exceeds file", hlen)
	}
	body := data[8+hlen:]

	header, err := fastjson.ParseBytes(data[8 : 8+hlen])
	if err != nil {
		return nil, fmt.Errorf("dense: header: %w", err)
	}
	t := header.Get(denseTensor)
	if t == nil {
		return nil, fmt.Errorf("dense: tensor %q not found", denseTensor)
	}
	if dtype := string(t.GetStringBytes("dtype")); dtype != "F32" {
		return nil, fmt.Errorf("dense: dtype %q, want F32", dtype)
	}
	shape := t.GetArray("shape")
	offsets := t.GetArray("data_offsets")
	if len(shape) != 2 || len(offsets) != 2 {
		return nil, fmt.Errorf("dense: malformed tensor header")
	}
	out, in := shape[0].GetInt(), shape[1].GetInt()
	start, end := offsets[0].GetInt(), offsets[1].GetInt()
	if out <= 0 || in <= 0 {
		return nil, fmt.Errorf("dense: bad shape [%d %d]", out, in)
	}
	if start < 0 || end > len(body) || end-start != out*in*4 {
		return nil, fmt.Errorf("dense: data range [%d:%d] does not fit shape [%d %d]", start, end, out, in)
	}

	raw := body[start:end]
	w := make([]float32, out*in)
	for i := range w {
		w[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return &dense{w: w, in: in, out: out}, nil
}

func (d *dense) apply(x []float32) []float32 {
	y := make([]float32, d.out)
	for i := range y {
		row := d.w[i*d.in : (i+1)*d.in]
		var acc float32
		for j, wj := range row {
			acc += wj * x[j]
		}
		y[i] = acc
	}
	return y
}
