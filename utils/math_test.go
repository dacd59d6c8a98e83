package utils

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestRowSoftmaxSumsToOne(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, -1, 0, 1})
	s := RowSoftmax(m)
	for i := 0; i < 2; i++ {
		sum := 0.0
		for j := 0; j < 3; j++ {
			sum += s.At(i, j)
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("row %d sums to %v", i, sum)
		}
	}
}

func TestMaskFillThenSoftmax(t *testing.T) {
	m := mat.NewDense(1, 3, []float64{2, 2, 2})
	MaskFill(m, [][]bool{{true, false, false}}, -98765)
	s := RowSoftmax(m)
	if s.At(0, 0) >= 1e-6 {
		t.Errorf("masked position kept weight %v", s.At(0, 0))
	}
	if math.Abs(s.At(0, 1)-0.5) > 1e-9 || math.Abs(s.At(0, 2)-0.5) > 1e-9 {
		t.Errorf("valid positions got (%v, %v), want (0.5, 0.5)", s.At(0, 1), s.At(0, 2))
	}
}

func TestMaskFillShapeMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on mask shape mismatch")
		}
	}()
	MaskFill(mat.NewDense(2, 2, nil), [][]bool{{true, false}}, 0)
}

func TestAddBiasRow(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	out := AddBiasRow(m, mat.NewVecDense(2, []float64{10, 20}))
	want := []float64{11, 22, 13, 24}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if out.At(i, j) != want[i*2+j] {
				t.Errorf("out[%d,%d] = %v, want %v", i, j, out.At(i, j), want[i*2+j])
			}
		}
	}
}

func TestReLUPrime(t *testing.T) {
	m := mat.NewDense(1, 3, []float64{-1, 0, 2})
	d := ReLUPrime(m)
	if d.At(0, 0) != 0 || d.At(0, 1) != 0 || d.At(0, 2) != 1 {
		t.Errorf("ReLUPrime = [%v %v %v], want [0 0 1]", d.At(0, 0), d.At(0, 1), d.At(0, 2))
	}
}

func TestRandomArrayBounds(t *testing.T) {
	limit := 1.0 / math.Sqrt(16)
	for _, v := range RandomArray(100, 16) {
		if v < -limit || v > limit {
			t.Fatalf("value %v outside ±%v", v, limit)
		}
	}
}

func TestMatrixNorm(t *testing.T) {
	m := mat.NewDense(1, 2, []float64{3, 4})
	if got := MatrixNorm(m); math.Abs(got-5) > 1e-12 {
		t.Fatalf("norm = %v, want 5", got)
	}
}
