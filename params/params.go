package params

// Config collects every knob the pretraining run recognizes. Fields are
// plain values so a run can be reconstructed from a config alone.
type Config struct {
	// Data
	DataPath    string
	SeqLen      int     // fixed history length L; shorter histories are left-padded with 0
	MinSequence int     // users with fewer interactions are dropped
	ValidFrac   float64 // fraction of users held out for validation
	BatchSize   int

	// Loss scale convention
	NormalizeLoss bool    // train on target/ScaleFactor, monitor in raw rating units
	ScaleFactor   float64 // rating scale upper bound, 5.0 for 1..5 stars

	// Meta loss-transform networks
	NumInnerSteps int  // inner optimization steps addressable by the loss network
	UseStepLoss   bool // one transform per inner step vs a single shared one
	NumLossHidden int  // loss-transform hidden width
	NumLossLayers int  // loss-transform depth, >= 1

	// Weighting networks
	WeightVocabSize int // token vocabulary of the sequence weighting net (0 = padding)
	WeightEmbedSize int
	LSTMHidden      int
	LSTMLayers      int
	LSTMOut         int // projected output width, 0 = no projection
	UseSoftmax      bool

	// Base recommender
	EmbeddingSize int
	ReductSize    int

	// Optimization
	PretrainingLR float64 // encoder parameter group
	ReductLR      float64 // dim-reduct head override
	OutLR         float64 // output head override
	AdamBeta1     float64
	AdamBeta2     float64
	AdamEps       float64
	LRMilestones  []int
	LRGamma       float64

	// Run control
	PretrainEpochs int
	LogInterval    int
	ValInterval    int
	CheckpointStep int // -1 starts fresh
	LogDir         string
}

// Defaults mirrors the reference experiment setup.
func Defaults() Config {
	return Config{
		SeqLen:      30,
		MinSequence: 5,
		ValidFrac:   0.1,
		BatchSize:   128,

		NormalizeLoss: true,
		ScaleFactor:   5.0,

		NumInnerSteps: 5,
		UseStepLoss:   true,
		NumLossHidden: 32,
		NumLossLayers: 2,

		WeightVocabSize: 7,
		WeightEmbedSize: 16,
		LSTMHidden:      32,
		LSTMLayers:      1,
		LSTMOut:         0,
		UseSoftmax:      true,

		EmbeddingSize: 64,
		ReductSize:    32,

		PretrainingLR: 1e-4,
		ReductLR:      1e-2,
		OutLR:         1e-2,
		AdamBeta1:     0.9,
		AdamBeta2:     0.999,
		AdamEps:       1e-8,
		LRMilestones:  []int{400, 700, 900},
		LRGamma:       0.1,

		PretrainEpochs: 1000,
		LogInterval:    1,
		ValInterval:    10,
		CheckpointStep: -1,
		LogDir:         "runs",
	}
}
