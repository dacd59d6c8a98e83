// Package pretrain drives the base recommender's pretraining: epoch
// iteration over the data loaders, the two loss-scale conventions,
// validation-gated checkpointing and the milestone learning-rate
// schedule.
package pretrain

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/recmeta/metarec/dataio"
	"github.com/recmeta/metarec/optimizations"
	"github.com/recmeta/metarec/params"
	"github.com/recmeta/metarec/utils"
)

// Model is the base model contract the orchestrator needs: a
// differentiable rating predictor whose parameters are exposed as
// optimizer groups and as a checkpointable state dict.
type Model interface {
	Forward(*dataio.Batch) *mat.VecDense
	Backward(dPred *mat.VecDense)
	ParamGroups() []*optimizations.Group
	StateDict() map[string]*mat.Dense
	LoadStateDict(map[string]*mat.Dense) error
}

// Loader serves fixed-shape batches in a stable, reproducible order.
type Loader interface {
	NumBatches() int
	Batch(i int) *dataio.Batch
}

// Pretrainer is the training orchestrator. Execution is single-threaded
// and strictly sequential: each batch completes its forward, loss and
// optional update before the next begins.
type Pretrainer struct {
	cfg   params.Config
	model Model
	opt   *optimizations.Adam
	sched *optimizations.MultiStepLR

	store   *dataio.CheckpointStore
	metrics *dataio.MetricsWriter
	state   *TrainingState
	log     *logrus.Logger
}

func NewPretrainer(cfg params.Config, model Model, store *dataio.CheckpointStore, metrics *dataio.MetricsWriter, log *logrus.Logger) *Pretrainer {
	if log == nil {
		log = logrus.New()
	}
	if cfg.LogInterval < 1 {
		cfg.LogInterval = 1
	}
	if cfg.ValInterval < 1 {
		cfg.ValInterval = 1
	}
	opt := optimizations.NewAdam(model.ParamGroups(), cfg.AdamBeta1, cfg.AdamBeta2, cfg.AdamEps)
	return &Pretrainer{
		cfg:     cfg,
		model:   model,
		opt:     opt,
		sched:   optimizations.NewMultiStepLR(opt, cfg.LRMilestones, cfg.LRGamma),
		store:   store,
		metrics: metrics,
		state:   NewTrainingState(),
		log:     log,
	}
}

// State exposes the run bookkeeping (read-mostly; the Pretrainer owns
// the writes).
func (p *Pretrainer) State() *TrainingState {
	return p.state
}

// SetMetrics attaches the scalar sink, typically one keyed by the run
// id so concurrent or repeated runs never share a file. A nil writer
// disables metric output.
func (p *Pretrainer) SetMetrics(m *dataio.MetricsWriter) {
	p.metrics = m
}

// EpochStep runs one pass over the loader and returns the epoch-level
// mean MSE, MAE and RMSE.
//
// The trained loss and the monitoring metrics use different scale
// conventions: with NormalizeLoss the gradient comes from
// MSE(out, target/scale) while monitoring rescales the detached output
// by scale before comparing against the raw target, so reported
// metrics are always in original rating units. Per-batch RMSE is
// sqrt(batch MSE) and the epoch RMSE is the arithmetic mean of those
// values: an average of square roots, not one global square root.
func (p *Pretrainer) EpochStep(loader Loader, train bool) (mse, mae, rmse float64) {
	nb := loader.NumBatches()
	mseLosses := make([]float64, 0, nb)
	maeLosses := make([]float64, 0, nb)
	rmseLosses := make([]float64, 0, nb)

	for i := 0; i < nb; i++ {
		batch := loader.Batch(i)
		n := batch.Size()
		p.opt.ZeroGrad()
		out := p.model.Forward(batch)

		dPred := mat.NewVecDense(n, nil)
		var batchMSE, batchMAE float64
		for j := 0; j < n; j++ {
			target := batch.TargetRatings.AtVec(j)
			if p.cfg.NormalizeLoss {
				dPred.SetVec(j, 2*(out.AtVec(j)-target/p.cfg.ScaleFactor)/float64(n))
				diff := out.AtVec(j)*p.cfg.ScaleFactor - target
				batchMSE += diff * diff
				batchMAE += math.Abs(diff)
			} else {
				diff := out.AtVec(j) - target
				dPred.SetVec(j, 2*diff/float64(n))
				batchMSE += diff * diff
				batchMAE += math.Abs(diff)
			}
		}
		batchMSE /= float64(n)
		batchMAE /= float64(n)

		if train {
			p.model.Backward(dPred)
			p.opt.Step()
		}
		mseLosses = append(mseLosses, batchMSE)
		maeLosses = append(maeLosses, batchMAE)
		rmseLosses = append(rmseLosses, math.Sqrt(batchMSE))
	}
	return stat.Mean(mseLosses, nil), stat.Mean(maeLosses, nil), stat.Mean(rmseLosses, nil)
}

// Train runs the configured number of epochs: train pass, periodic
// validation with strict-improvement checkpointing, and one scheduler
// step per epoch regardless of validation cadence.
func (p *Pretrainer) Train(trainLoader, validLoader Loader, epochs int) error {
	p.log.WithFields(logrus.Fields{
		"run":  p.state.RunID,
		"step": p.state.TrainStep,
	}).Info("starting pretraining")

	for epoch := 0; epoch < epochs; epoch++ {
		mse, mae, rmse := p.EpochStep(trainLoader, true)

		if p.state.TrainStep%p.cfg.LogInterval == 0 {
			p.log.WithFields(logrus.Fields{
				"epoch": p.state.TrainStep,
				"mse":   mse,
				"rmse":  rmse,
				"mae":   mae,
				"grad":  p.lastGradNorm(),
			}).Info("train")
			if err := p.addMetric("train/MSEloss", mse); err != nil {
				return err
			}
			if err := p.addMetric("train/MAEloss", mae); err != nil {
				return err
			}
		}

		if epoch%p.cfg.ValInterval == 0 {
			vmse, vmae, vrmse := p.EpochStep(validLoader, false)
			p.log.WithFields(logrus.Fields{
				"epoch": p.state.TrainStep,
				"mse":   vmse,
				"rmse":  vrmse,
				"mae":   vmae,
			}).Info("validation")
			if err := p.addMetric("valid/MSEloss", vmse); err != nil {
				return err
			}
			if err := p.addMetric("valid/MAEloss", vmae); err != nil {
				return err
			}
			if err := p.addMetric("valid/RMSEloss", vrmse); err != nil {
				return err
			}

			if p.state.Observe(p.state.TrainStep, vrmse) {
				if err := p.saveModel(); err != nil {
					return err
				}
				p.log.WithFields(logrus.Fields{
					"step": p.state.BestStep,
					"rmse": p.state.BestValidRMSE,
				}).Info("model saved")
			}
		}

		p.state.TrainStep++
		p.sched.Step()
	}
	return nil
}

// Load restores the model from the checkpoint keyed by step. A missing
// checkpoint surfaces dataio.ErrCheckpointNotFound and leaves the model
// parameters untouched.
func (p *Pretrainer) Load(step int) error {
	state, err := p.store.Load(step)
	if err != nil {
		return err
	}
	return errors.Wrapf(p.model.LoadStateDict(state), "apply checkpoint %d", step)
}

// Resume loads the checkpoint keyed by step and fast-forwards the step
// counter to it.
func (p *Pretrainer) Resume(step int) error {
	if err := p.Load(step); err != nil {
		return err
	}
	p.state.TrainStep = step
	return nil
}

// lastGradNorm is the global norm of the gradients left by the most
// recent batch update, a divergence signal for the epoch log.
func (p *Pretrainer) lastGradNorm() float64 {
	s := 0.0
	for _, g := range p.opt.Groups {
		for _, param := range g.Params {
			n := utils.MatrixNorm(param.Grad)
			s += n * n
		}
	}
	return math.Sqrt(s)
}

func (p *Pretrainer) saveModel() error {
	return errors.Wrapf(p.store.Save(p.state.TrainStep, p.model.StateDict()), "save checkpoint %d", p.state.TrainStep)
}

func (p *Pretrainer) addMetric(name string, value float64) error {
	if p.metrics == nil {
		return nil
	}
	return p.metrics.Add(name, p.state.TrainStep, value)
}
