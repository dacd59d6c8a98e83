// Package recmodel supplies the base recommendation model the
// pretraining loop optimizes. The encoder is deliberately small (user
// and item embedding tables with rating-weighted history pooling) so
// the training protocol around it stays the focus.
package recmodel

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/recmeta/metarec/dataio"
	"github.com/recmeta/metarec/optimizations"
	"github.com/recmeta/metarec/params"
	"github.com/recmeta/metarec/utils"
)

// Recommender predicts a scalar rating from (user, history, target
// item, history ratings). Item row 0 is the padding slot and never
// receives gradient: padding tokens are excluded from pooling and can
// never be targets.
type Recommender struct {
	dim    int
	reduct int

	userEmb *optimizations.Param // (numUsers x dim)
	itemEmb *optimizations.Param // (numItems+1 x dim), row 0 = padding
	reductW *optimizations.Param // (reduct x 3*dim)
	reductB *optimizations.Param // (reduct x 1)
	outW    *optimizations.Param // (1 x reduct)
	outB    *optimizations.Param // (1 x 1)

	groups []*optimizations.Group

	// caches for backward
	lastBatch *dataio.Batch
	counts    []float64 // valid history positions per example
	x         *mat.Dense
	hPre      *mat.Dense
	hAct      *mat.Dense
}

func NewRecommender(cfg params.Config, numUsers, numItems int) *Recommender {
	d := cfg.EmbeddingSize
	k := cfg.ReductSize
	if d < 1 || k < 1 || numUsers < 1 || numItems < 1 {
		panic(fmt.Sprintf("recmodel: invalid shape (users=%d items=%d dim=%d reduct=%d)", numUsers, numItems, d, k))
	}
	m := &Recommender{
		dim:     d,
		reduct:  k,
		userEmb: optimizations.NewParam("user_embedding", mat.NewDense(numUsers, d, utils.RandomArray(numUsers*d, float64(d)))),
		itemEmb: optimizations.NewParam("item_embedding", mat.NewDense(numItems+1, d, utils.RandomArray((numItems+1)*d, float64(d)))),
		reductW: optimizations.NewParam("dim_reduct.weight", mat.NewDense(k, 3*d, utils.RandomArray(k*3*d, float64(3*d)))),
		reductB: optimizations.NewParam("dim_reduct.bias", mat.NewDense(k, 1, nil)),
		outW:    optimizations.NewParam("out.weight", mat.NewDense(1, k, utils.RandomArray(k, float64(k)))),
		outB:    optimizations.NewParam("out.bias", mat.NewDense(1, 1, nil)),
	}
	// The encoder trains at the base rate; the reduct and output heads
	// carry their own, typically larger, rates.
	m.groups = []*optimizations.Group{
		{Name: "encoder", LR: cfg.PretrainingLR, Params: []*optimizations.Param{m.userEmb, m.itemEmb}},
		{Name: "dim_reduct", LR: cfg.ReductLR, Params: []*optimizations.Param{m.reductW, m.reductB}},
		{Name: "out", LR: cfg.OutLR, Params: []*optimizations.Param{m.outW, m.outB}},
	}
	return m
}

// ParamGroups exposes the optimizer groups. The slices are shared, not
// copied: the optimizer mutates these parameters in place.
func (m *Recommender) ParamGroups() []*optimizations.Group {
	return m.groups
}

// Forward computes predicted ratings for a batch and caches the
// activations backward needs.
func (m *Recommender) Forward(b *dataio.Batch) *mat.VecDense {
	n := b.Size()
	d := m.dim
	m.lastBatch = b
	m.counts = make([]float64, n)
	m.x = mat.NewDense(n, 3*d, nil)

	for i := 0; i < n; i++ {
		user := b.Users[i]
		for j := 0; j < d; j++ {
			m.x.Set(i, j, m.userEmb.W.At(user, j))
		}
		cnt := 0.0
		for t, tok := range b.History[i] {
			if tok == 0 {
				continue
			}
			cnt++
			r := b.HistoryRatings.At(i, t)
			for j := 0; j < d; j++ {
				m.x.Set(i, d+j, m.x.At(i, d+j)+r*m.itemEmb.W.At(tok, j))
			}
		}
		m.counts[i] = cnt
		if cnt > 0 {
			for j := 0; j < d; j++ {
				m.x.Set(i, d+j, m.x.At(i, d+j)/cnt)
			}
		}
		for j := 0; j < d; j++ {
			m.x.Set(i, 2*d+j, m.itemEmb.W.At(b.TargetItems[i], j))
		}
	}

	m.hPre = utils.ToDense(utils.Dot(m.x, m.reductW.W.T()))
	for i := 0; i < n; i++ {
		for j := 0; j < m.reduct; j++ {
			m.hPre.Set(i, j, m.hPre.At(i, j)+m.reductB.W.At(j, 0))
		}
	}
	m.hAct = utils.ZerosLike(m.hPre)
	m.hAct.Apply(utils.ReLUApply, m.hPre)

	preds := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		s := m.outB.W.At(0, 0)
		for j := 0; j < m.reduct; j++ {
			s += m.outW.W.At(0, j) * m.hAct.At(i, j)
		}
		preds.SetVec(i, s)
	}
	return preds
}

// Backward accumulates parameter gradients for dLoss/dPred. Must follow
// a Forward on the same batch.
func (m *Recommender) Backward(dPred *mat.VecDense) {
	if m.lastBatch == nil {
		panic("recmodel: Backward called before Forward")
	}
	n := m.lastBatch.Size()
	if dPred.Len() != n {
		panic(fmt.Sprintf("recmodel: dPred length %d, batch size %d", dPred.Len(), n))
	}
	d := m.dim
	k := m.reduct

	// Output head.
	for i := 0; i < n; i++ {
		g := dPred.AtVec(i)
		m.outB.Grad.Set(0, 0, m.outB.Grad.At(0, 0)+g)
		for j := 0; j < k; j++ {
			m.outW.Grad.Set(0, j, m.outW.Grad.At(0, j)+g*m.hAct.At(i, j))
		}
	}

	// Through the ReLU into the reduct layer.
	dH := utils.ReLUPrime(m.hPre)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			dH.Set(i, j, dH.At(i, j)*dPred.AtVec(i)*m.outW.W.At(0, j))
		}
	}
	m.reductW.Grad.Add(m.reductW.Grad, utils.ToDense(utils.Dot(dH.T(), m.x)))
	for j := 0; j < k; j++ {
		s := 0.0
		for i := 0; i < n; i++ {
			s += dH.At(i, j)
		}
		m.reductB.Grad.Set(j, 0, m.reductB.Grad.At(j, 0)+s)
	}

	// Into the concatenated embedding block, then scatter back onto
	// the embedding rows each example touched.
	dX := utils.ToDense(utils.Dot(dH, m.reductW.W))
	for i := 0; i < n; i++ {
		user := m.lastBatch.Users[i]
		for j := 0; j < d; j++ {
			m.userEmb.Grad.Set(user, j, m.userEmb.Grad.At(user, j)+dX.At(i, j))
		}
		if m.counts[i] > 0 {
			for t, tok := range m.lastBatch.History[i] {
				if tok == 0 {
					continue
				}
				scale := m.lastBatch.HistoryRatings.At(i, t) / m.counts[i]
				for j := 0; j < d; j++ {
					m.itemEmb.Grad.Set(tok, j, m.itemEmb.Grad.At(tok, j)+scale*dX.At(i, d+j))
				}
			}
		}
		target := m.lastBatch.TargetItems[i]
		for j := 0; j < d; j++ {
			m.itemEmb.Grad.Set(target, j, m.itemEmb.Grad.At(target, j)+dX.At(i, 2*d+j))
		}
	}
}

// StateDict returns a deep copy of every learnable parameter, keyed by
// name.
func (m *Recommender) StateDict() map[string]*mat.Dense {
	out := map[string]*mat.Dense{}
	for _, g := range m.groups {
		for _, p := range g.Params {
			out[p.Name] = mat.DenseCopyOf(p.W)
		}
	}
	return out
}

// LoadStateDict restores parameters from a state dict. Every parameter
// must be present with a matching shape; the model is left untouched
// when validation fails.
func (m *Recommender) LoadStateDict(state map[string]*mat.Dense) error {
	for _, g := range m.groups {
		for _, p := range g.Params {
			w, ok := state[p.Name]
			if !ok {
				return fmt.Errorf("recmodel: state dict missing %s", p.Name)
			}
			pr, pc := p.W.Dims()
			wr, wc := w.Dims()
			if pr != wr || pc != wc {
				return fmt.Errorf("recmodel: %s has shape (%d,%d), want (%d,%d)", p.Name, wr, wc, pr, pc)
			}
		}
	}
	for _, g := range m.groups {
		for _, p := range g.Params {
			p.W.Copy(state[p.Name])
		}
	}
	return nil
}
