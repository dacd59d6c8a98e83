package utils

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Matrix helpers shared by the meta-loss networks and the recommender.
// Batches are row-major throughout: one example per row.

func Dot(m, n mat.Matrix) mat.Matrix {
	r, _ := m.Dims()
	_, c := n.Dims()
	o := mat.NewDense(r, c, nil)
	o.Product(m, n)
	return o
}

func ToDense(m mat.Matrix) *mat.Dense {
	if d, ok := m.(*mat.Dense); ok {
		return d
	}
	return mat.DenseCopyOf(m)
}

func ZerosLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}

// RandomArray draws size values uniformly from ±1/sqrt(fanIn).
func RandomArray(size int, fanIn float64) []float64 {
	min := -1.0 / math.Sqrt(fanIn+1e-12)
	max := 1.0 / math.Sqrt(fanIn+1e-12)
	out := make([]float64, size)
	for i := 0; i < size; i++ {
		out[i] = min + (max-min)*rand.Float64()
	}
	return out
}

// AddBiasRow adds bias (length c) to every row of m (r x c).
func AddBiasRow(m *mat.Dense, bias *mat.VecDense) *mat.Dense {
	r, c := m.Dims()
	if bias.Len() != c {
		panic("AddBiasRow: bias length mismatch")
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, m.At(i, j)+bias.AtVec(j))
		}
	}
	return out
}

// -------- Activations --------

func ReLUApply(i, j int, v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}

// ReLUPrime returns the elementwise derivative given the pre-activation.
func ReLUPrime(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if m.At(i, j) > 0 {
				out.Set(i, j, 1)
			}
		}
	}
	return out
}

func AbsApply(i, j int, v float64) float64 {
	return math.Abs(v)
}

func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// -------- Masking + softmax --------

// MaskFill overwrites m[i][j] with v wherever mask[i][j] is true.
// The mask must cover m exactly.
func MaskFill(m *mat.Dense, mask [][]bool, v float64) {
	r, c := m.Dims()
	if len(mask) != r {
		panic("MaskFill: mask row count mismatch")
	}
	for i := 0; i < r; i++ {
		if len(mask[i]) != c {
			panic("MaskFill: mask column count mismatch")
		}
		for j := 0; j < c; j++ {
			if mask[i][j] {
				m.Set(i, j, v)
			}
		}
	}
}

// RowSoftmax applies softmax independently to each row across columns.
func RowSoftmax(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		mx := m.At(i, 0)
		for j := 1; j < c; j++ {
			if m.At(i, j) > mx {
				mx = m.At(i, j)
			}
		}
		sum := 0.0
		for j := 0; j < c; j++ {
			e := math.Exp(m.At(i, j) - mx)
			out.Set(i, j, e)
			sum += e
		}
		for j := 0; j < c; j++ {
			out.Set(i, j, out.At(i, j)/sum)
		}
	}
	return out
}

func MatrixNorm(m *mat.Dense) float64 {
	r, c := m.Dims()
	s := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			s += v * v
		}
	}
	return math.Sqrt(s)
}
