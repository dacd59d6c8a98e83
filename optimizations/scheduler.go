package optimizations

// MultiStepLR multiplies every group's learning rate by gamma each time
// the epoch counter crosses a milestone. Step is called once per epoch
// regardless of validation cadence; the current rate is always
// recomputed from the group's base rate, so stepping is idempotent with
// respect to rounding drift.
type MultiStepLR struct {
	opt        *Adam
	milestones []int
	gamma      float64

	epoch int
	base  []float64 // captured group LRs at construction
}

func NewMultiStepLR(opt *Adam, milestones []int, gamma float64) *MultiStepLR {
	s := &MultiStepLR{opt: opt, milestones: milestones, gamma: gamma}
	for _, g := range opt.Groups {
		s.base = append(s.base, g.LR)
	}
	return s
}

// Step advances the epoch counter and rescales all group rates.
func (s *MultiStepLR) Step() {
	s.epoch++
	decay := 1.0
	for _, m := range s.milestones {
		if s.epoch >= m {
			decay *= s.gamma
		}
	}
	for i, g := range s.opt.Groups {
		g.LR = s.base[i] * decay
	}
}

// Epoch reports how many times the schedule has been stepped.
func (s *MultiStepLR) Epoch() int {
	return s.epoch
}
