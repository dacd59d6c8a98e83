package metaloss

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/recmeta/metarec/utils"
)

// VectorWeightNetwork applies the weighting contract to a flat feature
// vector instead of a sequence: no embedding, no recurrence. A
// width-preserving hidden layer feeds a shared 1-wide head that is
// applied to each hidden unit, yielding one score per input dimension.
//
// The padding mask is derived from exact-zero entries of the input
// itself: a feature that is legitimately 0 is indistinguishable from
// "absent". Callers must keep their feature scale away from exact
// zeros, or accept that such entries are treated as padding. As with
// the sequence network, the abs branch does not consult the mask.
type VectorWeightNetwork struct {
	dims       int
	useSoftmax bool

	w1 *mat.Dense    // (dims x dims)
	b1 *mat.VecDense // (dims)
	w2 float64       // shared per-unit head
	b2 float64
}

func NewVectorWeightNetwork(dims int, useSoftmax bool) *VectorWeightNetwork {
	if dims < 1 {
		panic(fmt.Sprintf("metaloss: invalid VectorWeightNetwork width %d", dims))
	}
	return &VectorWeightNetwork{
		dims:       dims,
		useSoftmax: useSoftmax,
		w1:         mat.NewDense(dims, dims, utils.RandomArray(dims*dims, float64(dims))),
		b1:         mat.NewVecDense(dims, nil),
		w2:         utils.RandomArray(1, float64(dims))[0],
	}
}

// Evaluate weights a (batch x dims) matrix of flat feature vectors and
// returns a weight matrix of the same shape.
func (n *VectorWeightNetwork) Evaluate(x *mat.Dense) *mat.Dense {
	b, d := x.Dims()
	if d != n.dims {
		panic(fmt.Sprintf("metaloss: VectorWeightNetwork expects width %d, got %d", n.dims, d))
	}

	mask := make([][]bool, b)
	for i := 0; i < b; i++ {
		mask[i] = make([]bool, d)
		for j := 0; j < d; j++ {
			mask[i][j] = x.At(i, j) == 0
		}
	}

	hidden := utils.ToDense(utils.Dot(x, n.w1.T()))
	hidden = utils.AddBiasRow(hidden, n.b1)
	hidden.Apply(utils.ReLUApply, hidden)

	scores := mat.NewDense(b, d, nil)
	for i := 0; i < b; i++ {
		for j := 0; j < d; j++ {
			scores.Set(i, j, n.w2*hidden.At(i, j)+n.b2)
		}
	}

	if n.useSoftmax {
		utils.MaskFill(scores, mask, maskSentinel)
		return utils.RowSoftmax(scores)
	}
	scores.Apply(utils.AbsApply, scores)
	return scores
}
