package embedder

import "math"

// meanPool averages the hidden states of unmasked tokens per row.
// hidden is [rows*width*dim], mask is [rows*width]; the result is [rows*dim].
// Rows with no unmasked tokens pool to zero.
func meanPool(hidden []float32, mask []int64, rows, width, dim int64) []float32 {
	out := make([]float32, rows*dim)
	for r := int64(0); r < rows; r++ {
		acc := out[r*dim : (r+1)*dim]
		n := 0
		for t := int64(0); t < width; t++ {
			if mask[r*width+t] != 1 {
				continue
			}
			n++
			tok := hidden[(r*width+t)*dim : (r*width+t+1)*dim]
			for d, v := range tok {
				acc[d] += v
			}
		}
		if n == 0 {
			continue
		}
		inv := 1 / float32(n)
		for d := range acc {
			acc[d] *= inv
		}
	}
	return out
}

// l2Normalize scales vec to unit length in place. Zero vectors are left as is.
func l2Normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
