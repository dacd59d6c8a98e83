package metaloss

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/recmeta/metarec/params"
	"github.com/recmeta/metarec/utils"
)

// maskSentinel is injected at padding positions before softmax so they
// end up with ~0 weight. Masking happens before normalizing; zeroing
// after a softmax would break the sum-to-1 invariant.
const maskSentinel = -98765

// SequenceWeightConfig shapes a SequenceWeightNetwork.
type SequenceWeightConfig struct {
	VocabSize  int // token ids live in [0, VocabSize); 0 is padding
	EmbedSize  int
	Hidden     int
	Layers     int
	Proj       int // LSTM output projection width, 0 = no projection
	UseSoftmax bool
}

// SequenceWeightNetwork scores every position of a padded item-id
// sequence and turns the scores into importance weights. The encoder is
// an LSTM whose initial state is learned: one (layers x width) pair
// owned by the network and replicated across the batch on every call.
//
// With UseSoftmax the weights of each row sum to 1 over non-padding
// positions. Without it the scores only pass through abs: padding
// positions keep whatever weight they got, on the assumption that the
// loss they multiply is already masked downstream.
type SequenceWeightNetwork struct {
	cfg     SequenceWeightConfig
	outSize int // Proj if set, else Hidden

	embed  *mat.Dense // (VocabSize x EmbedSize)
	layers []*lstmLayer
	h0     *mat.Dense // (Layers x outSize), learned
	c0     *mat.Dense // (Layers x Hidden), learned

	outW *mat.VecDense // (outSize), per-position scoring head
	outB float64
}

// lstmLayer holds one layer's gate parameters. Gates are packed
// i|f|g|o along the rows of wx/wh.
type lstmLayer struct {
	wx *mat.Dense    // (4*Hidden x in)
	wh *mat.Dense    // (4*Hidden x outSize)
	b  *mat.VecDense // (4*Hidden)
	wp *mat.Dense    // (Proj x Hidden), nil when no projection
}

func NewSequenceWeightNetwork(cfg SequenceWeightConfig) *SequenceWeightNetwork {
	if cfg.VocabSize < 2 || cfg.EmbedSize < 1 || cfg.Hidden < 1 || cfg.Layers < 1 {
		panic(fmt.Sprintf("metaloss: invalid SequenceWeightConfig %+v", cfg))
	}
	out := cfg.Hidden
	if cfg.Proj > 0 {
		out = cfg.Proj
	}
	n := &SequenceWeightNetwork{
		cfg:     cfg,
		outSize: out,
		embed:   mat.NewDense(cfg.VocabSize, cfg.EmbedSize, utils.RandomArray(cfg.VocabSize*cfg.EmbedSize, float64(cfg.EmbedSize))),
		h0:      mat.NewDense(cfg.Layers, out, utils.RandomArray(cfg.Layers*out, float64(out))),
		c0:      mat.NewDense(cfg.Layers, cfg.Hidden, utils.RandomArray(cfg.Layers*cfg.Hidden, float64(cfg.Hidden))),
		outW:    mat.NewVecDense(out, utils.RandomArray(out, float64(out))),
	}
	in := cfg.EmbedSize
	for l := 0; l < cfg.Layers; l++ {
		layer := &lstmLayer{
			wx: mat.NewDense(4*cfg.Hidden, in, utils.RandomArray(4*cfg.Hidden*in, float64(in))),
			wh: mat.NewDense(4*cfg.Hidden, out, utils.RandomArray(4*cfg.Hidden*out, float64(out))),
			b:  mat.NewVecDense(4*cfg.Hidden, nil),
		}
		if cfg.Proj > 0 {
			layer.wp = mat.NewDense(cfg.Proj, cfg.Hidden, utils.RandomArray(cfg.Proj*cfg.Hidden, float64(cfg.Hidden)))
		}
		n.layers = append(n.layers, layer)
		in = out
	}
	return n
}

// NewSequenceWeightNetworkFromConfig builds the sequence weighting
// network described by the run configuration.
func NewSequenceWeightNetworkFromConfig(cfg params.Config) *SequenceWeightNetwork {
	return NewSequenceWeightNetwork(SequenceWeightConfig{
		VocabSize:  cfg.WeightVocabSize,
		EmbedSize:  cfg.WeightEmbedSize,
		Hidden:     cfg.LSTMHidden,
		Layers:     cfg.LSTMLayers,
		Proj:       cfg.LSTMOut,
		UseSoftmax: cfg.UseSoftmax,
	})
}

// Evaluate weights a batch of equal-length padded sequences and returns
// a (batch x L) weight matrix. The padding mask is derived from the raw
// token ids before embedding. Rows that are entirely padding are a
// caller contract violation: their softmax is numerically defined but
// semantically meaningless.
func (n *SequenceWeightNetwork) Evaluate(seqs [][]int) *mat.Dense {
	b := len(seqs)
	if b == 0 {
		panic("metaloss: empty sequence batch")
	}
	l := len(seqs[0])

	mask := make([][]bool, b)
	for i, s := range seqs {
		if len(s) != l {
			panic(fmt.Sprintf("metaloss: ragged sequence batch (row %d has %d tokens, want %d)", i, len(s), l))
		}
		mask[i] = make([]bool, l)
		for t, tok := range s {
			if tok < 0 || tok >= n.cfg.VocabSize {
				panic(fmt.Sprintf("metaloss: token %d outside vocab [0,%d)", tok, n.cfg.VocabSize))
			}
			mask[i][t] = tok == 0
		}
	}

	// Replicate the learned initial state across the batch. The stored
	// parameters are never mutated; each call works on fresh copies.
	h := make([]*mat.Dense, n.cfg.Layers)
	c := make([]*mat.Dense, n.cfg.Layers)
	for lay := 0; lay < n.cfg.Layers; lay++ {
		h[lay] = mat.NewDense(b, n.outSize, nil)
		c[lay] = mat.NewDense(b, n.cfg.Hidden, nil)
		for i := 0; i < b; i++ {
			for j := 0; j < n.outSize; j++ {
				h[lay].Set(i, j, n.h0.At(lay, j))
			}
			for j := 0; j < n.cfg.Hidden; j++ {
				c[lay].Set(i, j, n.c0.At(lay, j))
			}
		}
	}

	scores := mat.NewDense(b, l, nil)
	for t := 0; t < l; t++ {
		// Embed column t of the batch.
		x := mat.NewDense(b, n.cfg.EmbedSize, nil)
		for i := 0; i < b; i++ {
			x.SetRow(i, n.embed.RawRowView(seqs[i][t]))
		}
		in := x
		for lay, layer := range n.layers {
			in = layer.step(in, h[lay], c[lay], n.cfg.Hidden)
			h[lay] = in
		}
		// Score the top layer's output at this position.
		for i := 0; i < b; i++ {
			s := n.outB
			for j := 0; j < n.outSize; j++ {
				s += n.outW.AtVec(j) * in.At(i, j)
			}
			scores.Set(i, t, s)
		}
	}

	if n.cfg.UseSoftmax {
		utils.MaskFill(scores, mask, maskSentinel)
		return utils.RowSoftmax(scores)
	}
	scores.Apply(utils.AbsApply, scores)
	return scores
}

// step advances one LSTM layer by one position. x is (b x in), h is the
// previous output (b x outSize), c the previous cell (b x Hidden); c is
// updated in place and the new output is returned.
func (l *lstmLayer) step(x, h, c *mat.Dense, hidden int) *mat.Dense {
	b, _ := x.Dims()
	gates := utils.ToDense(utils.Dot(x, l.wx.T()))
	gates.Add(gates, utils.ToDense(utils.Dot(h, l.wh.T())))
	gates = utils.AddBiasRow(gates, l.b)

	raw := mat.NewDense(b, hidden, nil)
	for i := 0; i < b; i++ {
		for j := 0; j < hidden; j++ {
			ig := utils.Sigmoid(gates.At(i, j))
			fg := utils.Sigmoid(gates.At(i, hidden+j))
			gg := math.Tanh(gates.At(i, 2*hidden+j))
			og := utils.Sigmoid(gates.At(i, 3*hidden+j))
			cv := fg*c.At(i, j) + ig*gg
			c.Set(i, j, cv)
			raw.Set(i, j, og*math.Tanh(cv))
		}
	}
	if l.wp == nil {
		return raw
	}
	return utils.ToDense(utils.Dot(raw, l.wp.T()))
}
