package recmodel

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/recmeta/metarec/dataio"
	"github.com/recmeta/metarec/params"
)

func testConfig() params.Config {
	cfg := params.Defaults()
	cfg.EmbeddingSize = 3
	cfg.ReductSize = 4
	return cfg
}

func testBatch() *dataio.Batch {
	return &dataio.Batch{
		Users:       []int{0, 1},
		History:     [][]int{{0, 0, 1, 2}, {1, 3, 4, 2}},
		TargetItems: []int{3, 1},
		HistoryRatings: mat.NewDense(2, 4, []float64{
			0, 0, 4, 5,
			3, 2, 5, 1,
		}),
		TargetRatings: mat.NewVecDense(2, []float64{4.0, 2.5}),
	}
}

func zeroGrads(m *Recommender) {
	for _, g := range m.ParamGroups() {
		for _, p := range g.Params {
			p.Grad.Zero()
		}
	}
}

// mseLoss runs a fresh forward pass and returns the batch MSE.
func mseLoss(m *Recommender, b *dataio.Batch) float64 {
	preds := m.Forward(b)
	loss := 0.0
	for i := 0; i < preds.Len(); i++ {
		d := preds.AtVec(i) - b.TargetRatings.AtVec(i)
		loss += d * d
	}
	return loss / float64(preds.Len())
}

func finiteDiffCheck(t *testing.T, name string, param, grad *mat.Dense,
	forward func() float64, i, j int) {
	t.Helper()

	eps := 1e-5
	w0 := param.At(i, j)

	param.Set(i, j, w0+eps)
	lp := forward()
	param.Set(i, j, w0-eps)
	lm := forward()
	param.Set(i, j, w0)

	numGrad := (lp - lm) / (2.0 * eps)
	anaGrad := grad.At(i, j)
	if math.Abs(numGrad-anaGrad) > 1e-4 {
		t.Fatalf("%s[%d,%d] grad mismatch: num=%.6g ana=%.6g",
			name, i, j, numGrad, anaGrad)
	}
}

func TestRecommenderGradCheck(t *testing.T) {
	rand.Seed(123)
	m := NewRecommender(testConfig(), 2, 5)
	batch := testBatch()

	forward := func() float64 { return mseLoss(m, batch) }

	zeroGrads(m)
	preds := m.Forward(batch)
	n := preds.Len()
	dPred := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		dPred.SetVec(i, 2*(preds.AtVec(i)-batch.TargetRatings.AtVec(i))/float64(n))
	}
	m.Backward(dPred)

	finiteDiffCheck(t, "dim_reduct.weight", m.reductW.W, m.reductW.Grad, forward, 0, 0)
	finiteDiffCheck(t, "dim_reduct.bias", m.reductB.W, m.reductB.Grad, forward, 2, 0)
	finiteDiffCheck(t, "out.weight", m.outW.W, m.outW.Grad, forward, 0, 1)
	finiteDiffCheck(t, "out.bias", m.outB.W, m.outB.Grad, forward, 0, 0)
	finiteDiffCheck(t, "user_embedding", m.userEmb.W, m.userEmb.Grad, forward, 0, 0)
	finiteDiffCheck(t, "user_embedding", m.userEmb.W, m.userEmb.Grad, forward, 1, 2)
	// Item 2 appears in both histories, item 1 is both history and
	// target: the scattered gradients must accumulate correctly.
	finiteDiffCheck(t, "item_embedding", m.itemEmb.W, m.itemEmb.Grad, forward, 2, 1)
	finiteDiffCheck(t, "item_embedding", m.itemEmb.W, m.itemEmb.Grad, forward, 1, 0)
	finiteDiffCheck(t, "item_embedding", m.itemEmb.W, m.itemEmb.Grad, forward, 3, 2)
}

func TestPaddingRowGetsNoGradient(t *testing.T) {
	rand.Seed(123)
	m := NewRecommender(testConfig(), 2, 5)
	batch := testBatch()

	zeroGrads(m)
	preds := m.Forward(batch)
	dPred := mat.NewVecDense(preds.Len(), nil)
	for i := 0; i < preds.Len(); i++ {
		dPred.SetVec(i, 1)
	}
	m.Backward(dPred)

	for j := 0; j < 3; j++ {
		if g := m.itemEmb.Grad.At(0, j); g != 0 {
			t.Fatalf("padding row received gradient %v at col %d", g, j)
		}
	}
}

func TestStateDictRoundTrip(t *testing.T) {
	rand.Seed(123)
	cfg := testConfig()
	a := NewRecommender(cfg, 2, 5)
	b := NewRecommender(cfg, 2, 5)

	if err := b.LoadStateDict(a.StateDict()); err != nil {
		t.Fatalf("LoadStateDict: %v", err)
	}
	pa := a.Forward(testBatch())
	pb := b.Forward(testBatch())
	for i := 0; i < pa.Len(); i++ {
		if pa.AtVec(i) != pb.AtVec(i) {
			t.Fatalf("prediction %d differs after state dict copy: %v vs %v", i, pa.AtVec(i), pb.AtVec(i))
		}
	}
}

func TestLoadStateDictRejectsMismatch(t *testing.T) {
	rand.Seed(123)
	cfg := testConfig()
	m := NewRecommender(cfg, 2, 5)

	state := m.StateDict()
	delete(state, "out.bias")
	if err := m.LoadStateDict(state); err == nil {
		t.Fatal("expected error for missing parameter")
	}

	state = m.StateDict()
	state["out.weight"] = mat.NewDense(1, 9, nil)
	if err := m.LoadStateDict(state); err == nil {
		t.Fatal("expected error for shape mismatch")
	}
}
