package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Param is one learnable tensor with its gradient accumulator and Adam
// moment state. The model writes into Grad during backward; Step folds
// Grad into W and advances the per-param timestep.
type Param struct {
	Name string
	W    *mat.Dense
	Grad *mat.Dense

	t    int
	m, v *mat.Dense
}

func NewParam(name string, w *mat.Dense) *Param {
	return &Param{
		Name: name,
		W:    w,
		Grad: zerosLike(w),
		m:    zerosLike(w),
		v:    zerosLike(w),
	}
}

// Group is a set of parameters sharing one learning rate. Distinct
// groups let subcomponents train at different rates under a single
// optimizer, with a scheduler rescaling all of them together.
type Group struct {
	Name   string
	LR     float64
	Params []*Param
}

// Adam applies bias-corrected Adam updates per group.
type Adam struct {
	Groups []*Group

	Beta1, Beta2, Eps float64
	WeightDecay       float64 // AdamW-style, applied to weights only when > 0
}

func NewAdam(groups []*Group, beta1, beta2, eps float64) *Adam {
	return &Adam{Groups: groups, Beta1: beta1, Beta2: beta2, Eps: eps}
}

// ZeroGrad clears every gradient accumulator. Called before each batch.
func (a *Adam) ZeroGrad() {
	for _, g := range a.Groups {
		for _, p := range g.Params {
			p.Grad.Zero()
		}
	}
}

// Step performs one Adam update on every parameter using its group's
// current learning rate.
func (a *Adam) Step() {
	for _, g := range a.Groups {
		for _, p := range g.Params {
			p.t++
			AdamUpdateInPlace(p.W, p.Grad, p.m, p.v, p.t, g.LR, a.Beta1, a.Beta2, a.Eps, a.WeightDecay)
		}
	}
}

// AdamUpdateInPlace: p -= lr * (mhat/(sqrt(vhat)+eps) + wd*p) with bias
// correction.
func AdamUpdateInPlace(
	p, g, m, v *mat.Dense,
	t int,
	lr, beta1, beta2, eps, weightDecay float64,
) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic("AdamUpdateInPlace: grad shape mismatch")
	}
	if mr, mc := m.Dims(); mr != pr || mc != pc {
		panic("AdamUpdateInPlace: m shape mismatch")
	}
	if vr, vc := v.Dims(); vr != pr || vc != pc {
		panic("AdamUpdateInPlace: v shape mismatch")
	}
	b1t := math.Pow(beta1, float64(t))
	b2t := math.Pow(beta2, float64(t))
	c1 := 1.0 / (1.0 - b1t)
	c2 := 1.0 / (1.0 - b2t)
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			gij := g.At(i, j)
			mij := beta1*m.At(i, j) + (1.0-beta1)*gij
			vij := beta2*v.At(i, j) + (1.0-beta2)*gij*gij
			mhat := mij * c1
			vhat := vij * c2
			update := mhat/(math.Sqrt(vhat)+eps) + weightDecay*p.At(i, j)
			m.Set(i, j, mij)
			v.Set(i, j, vij)
			p.Set(i, j, p.At(i, j)-lr*update)
		}
	}
}

func zerosLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}
