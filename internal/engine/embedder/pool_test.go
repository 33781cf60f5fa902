package embedder

import (
	"math"
	"testing"
)

func TestMeanPool(t *testing.T) {
	tests := []struct {
		name   string
		hidden []float32
		mask   []int64
		rows   int64
		width  int64
		want   []float32
	}{
		{
			name:   "padding ignored",
			hidden: []float32{1, 2, 3, 4, 5, 6},
			mask:   []int64{1, 1, 0},
			rows:   1, width: 3,
			want: []float32{2, 3},
		},
		{
			name:   "two rows",
			hidden: []float32{10, 20, 30, 40, 5, 15, 0, 0},
			mask:   []int64{1, 1, 1, 0},
			rows:   2, width: 2,
			want: []float32{20, 30, 5, 15},
		},
		{
			name:   "all padding",
			hidden: []float32{1, 2, 3, 4},
			mask:   []int64{0, 0},
			rows:   1, width: 2,
			want: []float32{0, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := meanPool(tt.hidden, tt.mask, tt.rows, tt.width, 2)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if !closeEnough(got[i], tt.want[i]) {
					t.Errorf("out[%d] = %f, want %f", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestL2Normalize(t *testing.T) {
	v := []float32{3, 4}
	l2Normalize(v)
	if !closeEnough(v[0], 0.6) || !closeEnough(v[1], 0.8) {
		t.Errorf("got %v, want [0.6 0.8]", v)
	}

	zero := []float32{0, 0, 0}
	l2Normalize(zero)
	for i, x := range zero {
		if x != 0 {
			t.Errorf("zero[%d] = %f, want 0", i, x)
		}
	}
}

func closeEnough(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-6
}
