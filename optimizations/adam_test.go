package optimizations

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestAdamConvergesOnQuadratic(t *testing.T) {
	p := NewParam("w", mat.NewDense(1, 1, []float64{5}))
	opt := NewAdam([]*Group{{Name: "g", LR: 0.01, Params: []*Param{p}}}, 0.9, 0.999, 1e-8)

	// Minimize (w-3)^2. Adam's step size is bounded by the learning
	// rate, so the residual oscillation stays well inside the tolerance.
	for i := 0; i < 2000; i++ {
		opt.ZeroGrad()
		p.Grad.Set(0, 0, 2*(p.W.At(0, 0)-3))
		opt.Step()
	}
	if got := p.W.At(0, 0); math.Abs(got-3) > 0.05 {
		t.Fatalf("w = %v after 2000 steps, want ~3", got)
	}
}

func TestZeroGrad(t *testing.T) {
	p := NewParam("w", mat.NewDense(2, 2, []float64{1, 2, 3, 4}))
	opt := NewAdam([]*Group{{Name: "g", LR: 0.1, Params: []*Param{p}}}, 0.9, 0.999, 1e-8)
	p.Grad.Set(1, 1, 9)
	opt.ZeroGrad()
	if p.Grad.At(1, 1) != 0 {
		t.Fatal("ZeroGrad left a stale gradient")
	}
}

func TestAdamShapeMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on grad shape mismatch")
		}
	}()
	AdamUpdateInPlace(
		mat.NewDense(2, 2, nil), mat.NewDense(2, 1, nil),
		mat.NewDense(2, 2, nil), mat.NewDense(2, 2, nil),
		1, 0.1, 0.9, 0.999, 1e-8, 0,
	)
}

func TestMultiStepLRDecay(t *testing.T) {
	a := NewParam("a", mat.NewDense(1, 1, nil))
	b := NewParam("b", mat.NewDense(1, 1, nil))
	opt := NewAdam([]*Group{
		{Name: "encoder", LR: 0.1, Params: []*Param{a}},
		{Name: "head", LR: 0.01, Params: []*Param{b}},
	}, 0.9, 0.999, 1e-8)
	sched := NewMultiStepLR(opt, []int{2, 4}, 0.1)

	wantEncoder := []float64{0.1, 0.01, 0.01, 0.001, 0.001}
	for i, want := range wantEncoder {
		sched.Step()
		if got := opt.Groups[0].LR; math.Abs(got-want) > 1e-15 {
			t.Errorf("after %d steps encoder LR = %v, want %v", i+1, got, want)
		}
		// The head group decays by the same factor from its own base.
		if got, want := opt.Groups[1].LR, wantEncoder[i]/10; math.Abs(got-want) > 1e-15 {
			t.Errorf("after %d steps head LR = %v, want %v", i+1, got, want)
		}
	}
	if sched.Epoch() != 5 {
		t.Fatalf("epoch counter = %d, want 5", sched.Epoch())
	}
}
