package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/recmeta/metarec/dataio"
	"github.com/recmeta/metarec/params"
	"github.com/recmeta/metarec/pretrain"
	"github.com/recmeta/metarec/recmodel"
)

func main() {
	log := logrus.New()
	if err := run(log); err != nil {
		log.WithError(err).Fatal("pretraining failed")
	}
}

func run(log *logrus.Logger) error {
	cfg := params.Defaults()

	flag.StringVar(&cfg.DataPath, "data", "", "Interaction file: \"user item rating\" lines, chronological per user")
	flag.StringVar(&cfg.LogDir, "log_dir", cfg.LogDir, "Directory for checkpoints and the metrics log")
	flag.IntVar(&cfg.PretrainEpochs, "epochs", cfg.PretrainEpochs, "Number of pretraining epochs")
	flag.IntVar(&cfg.SeqLen, "seq_len", cfg.SeqLen, "Fixed history length")
	flag.IntVar(&cfg.BatchSize, "batch_size", cfg.BatchSize, "Batch size")
	flag.IntVar(&cfg.CheckpointStep, "checkpoint_step", cfg.CheckpointStep, "Resume from this checkpoint step (-1 starts fresh)")
	flag.BoolVar(&cfg.NormalizeLoss, "normalize_loss", cfg.NormalizeLoss, "Train on targets divided by the rating scale")
	flag.Float64Var(&cfg.PretrainingLR, "pretraining_lr", cfg.PretrainingLR, "Encoder learning rate")
	flag.Parse()

	if cfg.DataPath == "" {
		flag.Usage()
		return errors.New("-data is required")
	}

	ds, err := dataio.LoadInteractions(cfg.DataPath, cfg.SeqLen, cfg.MinSequence)
	if err != nil {
		return err
	}
	trainSet, validSet := ds.Split(cfg.ValidFrac, 1)
	log.WithFields(logrus.Fields{
		"users": ds.NumUsers,
		"items": ds.NumItems,
		"train": trainSet.Len(),
		"valid": validSet.Len(),
	}).Info("dataset loaded")

	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return errors.Wrapf(err, "create log dir %s", cfg.LogDir)
	}
	store, err := dataio.NewCheckpointStore(filepath.Join(cfg.LogDir, "state"))
	if err != nil {
		return err
	}

	model := recmodel.NewRecommender(cfg, ds.NumUsers, ds.NumItems)
	p := pretrain.NewPretrainer(cfg, model, store, nil, log)

	// One scalar file per run id, so a rerun never overwrites an
	// earlier run's series.
	metrics, err := dataio.NewMetricsWriter(filepath.Join(cfg.LogDir, p.State().RunID+"-scalars.csv"))
	if err != nil {
		return err
	}
	defer metrics.Close()
	p.SetMetrics(metrics)

	if cfg.CheckpointStep > -1 {
		if err := p.Resume(cfg.CheckpointStep); err != nil {
			return err
		}
		log.WithField("step", cfg.CheckpointStep).Info("resumed from checkpoint")
	} else {
		log.Info("checkpoint loading skipped")
	}

	return p.Train(
		dataio.NewLoader(trainSet, cfg.BatchSize),
		dataio.NewLoader(validSet, cfg.BatchSize),
		cfg.PretrainEpochs,
	)
}
