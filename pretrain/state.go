package pretrain

import (
	"math"

	"github.com/google/uuid"
)

// TrainingState is the run's mutable bookkeeping, owned by the
// Pretrainer rather than living in package globals so a resumed run is
// reconstructed purely from its inputs (checkpoint + step label).
type TrainingState struct {
	RunID string

	TrainStep     int     // global step counter, advanced once per epoch
	BestValidRMSE float64 // best validation RMSE seen so far
	BestStep      int     // step label of the last strict improvement
}

func NewTrainingState() *TrainingState {
	return &TrainingState{
		RunID:         uuid.NewString(),
		BestValidRMSE: math.Inf(1),
	}
}

// Observe records a validation RMSE for the given step and reports
// whether it strictly improves on the best so far. NaN observations,
// ties and regressions leave the state untouched, so checkpoint writes
// stay monotone in validation quality. A NaN best would compare false
// against everything and disable the gating for the rest of the run.
func (s *TrainingState) Observe(step int, rmse float64) bool {
	if math.IsNaN(rmse) || rmse >= s.BestValidRMSE {
		return false
	}
	s.BestValidRMSE = rmse
	s.BestStep = step
	return true
}
