// Package metaloss holds the learned loss-transform and loss-weighting
// networks used during meta pretraining. All networks are forward-only
// function approximators over gonum matrices; their parameters are
// trained by an outer meta loop, not by the optimizer in pretrain.
package metaloss

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/recmeta/metarec/params"
	"github.com/recmeta/metarec/utils"
)

// StepLossTransform maps a loss-representation vector of fixed width to
// a single unconstrained scalar: numLayers-1 width-preserving
// linear+ReLU blocks followed by a linear collapse to width 1. The last
// block carries no nonlinearity since the output stands in for a loss
// term, not a probability.
type StepLossTransform struct {
	hidden int
	w      []*mat.Dense    // widths: (hidden x hidden)*, final (1 x hidden)
	b      []*mat.VecDense // widths: (hidden)*, final (1)
}

// NewStepLossTransform builds a transform of the given hidden width and
// depth. numLayers must be >= 1; a depth of 1 is just the collapse.
func NewStepLossTransform(hidden, numLayers int) *StepLossTransform {
	if hidden < 1 || numLayers < 1 {
		panic(fmt.Sprintf("metaloss: invalid StepLossTransform shape (%d, %d)", hidden, numLayers))
	}
	n := &StepLossTransform{hidden: hidden}
	for i := 0; i < numLayers-1; i++ {
		n.w = append(n.w, mat.NewDense(hidden, hidden, utils.RandomArray(hidden*hidden, float64(hidden))))
		n.b = append(n.b, mat.NewVecDense(hidden, nil))
	}
	n.w = append(n.w, mat.NewDense(1, hidden, utils.RandomArray(hidden, float64(hidden))))
	n.b = append(n.b, mat.NewVecDense(1, nil))
	return n
}

// Forward evaluates the transform on a hidden vector of the configured
// width. Panics on width mismatch; that is a caller contract violation.
func (n *StepLossTransform) Forward(h *mat.VecDense) float64 {
	if h.Len() != n.hidden {
		panic(fmt.Sprintf("metaloss: StepLossTransform expects width %d, got %d", n.hidden, h.Len()))
	}
	x := mat.VecDenseCopyOf(h)
	last := len(n.w) - 1
	for i := 0; i < last; i++ {
		var y mat.VecDense
		y.MulVec(n.w[i], x)
		y.AddVec(&y, n.b[i])
		for k := 0; k < y.Len(); k++ {
			if y.AtVec(k) < 0 {
				y.SetVec(k, 0)
			}
		}
		x = &y
	}
	var out mat.VecDense
	out.MulVec(n.w[last], x)
	return out.AtVec(0) + n.b[last].AtVec(0)
}

// LossNetwork dispatches to one StepLossTransform per inner
// optimization step, or to a single shared instance when step
// specialization is disabled. Sharing vs specializing is a tunable
// inductive bias, so both modes present the same Evaluate signature.
type LossNetwork struct {
	steps        []*StepLossTransform
	stepSpecific bool
}

func NewLossNetwork(numInnerSteps, hidden, numLayers int, useStepLoss bool) *LossNetwork {
	ln := &LossNetwork{stepSpecific: useStepLoss}
	if useStepLoss {
		if numInnerSteps < 1 {
			panic(fmt.Sprintf("metaloss: numInnerSteps must be >= 1, got %d", numInnerSteps))
		}
		for i := 0; i < numInnerSteps; i++ {
			ln.steps = append(ln.steps, NewStepLossTransform(hidden, numLayers))
		}
	} else {
		ln.steps = []*StepLossTransform{NewStepLossTransform(hidden, numLayers)}
	}
	return ln
}

// NewLossNetworkFromConfig builds the loss network described by the run
// configuration.
func NewLossNetworkFromConfig(cfg params.Config) *LossNetwork {
	return NewLossNetwork(cfg.NumInnerSteps, cfg.NumLossHidden, cfg.NumLossLayers, cfg.UseStepLoss)
}

// Evaluate applies the transform for the given inner step. In shared
// mode the step index is ignored. In step-specific mode an index
// outside the configured range panics: it indicates a wiring bug in
// the inner loop, not a runtime condition to recover from.
func (ln *LossNetwork) Evaluate(h *mat.VecDense, step int) float64 {
	if !ln.stepSpecific {
		return ln.steps[0].Forward(h)
	}
	if step < 0 || step >= len(ln.steps) {
		panic(fmt.Sprintf("metaloss: step index %d out of range [0,%d)", step, len(ln.steps)))
	}
	return ln.steps[step].Forward(h)
}

// NumSteps reports how many distinct transforms are configured.
func (ln *LossNetwork) NumSteps() int {
	return len(ln.steps)
}
