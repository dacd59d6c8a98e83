package dataio

import (
	"encoding/gob"
	stderrors "errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrCheckpointNotFound reports a Load for a step that was never saved.
// Callers decide whether that means "start fresh" or "abort".
var ErrCheckpointNotFound = stderrors.New("checkpoint not found")

// tensorData is the gob form of one named parameter.
type tensorData struct {
	Name string
	R, C int
	Data []float64
}

// CheckpointStore keeps model snapshots in a directory, one gob blob
// per integer step label. Writing a step overwrites any prior blob for
// it; blobs are otherwise immutable.
type CheckpointStore struct {
	dir string
}

func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create checkpoint dir %s", dir)
	}
	return &CheckpointStore{dir: dir}, nil
}

func (s *CheckpointStore) path(step int) string {
	return filepath.Join(s.dir, strconv.Itoa(step))
}

// Save persists a state dict under the given step label.
func (s *CheckpointStore) Save(step int, state map[string]*mat.Dense) error {
	f, err := os.Create(s.path(step))
	if err != nil {
		return errors.Wrapf(err, "create checkpoint %d", step)
	}
	defer f.Close()

	blobs := make([]tensorData, 0, len(state))
	for name, w := range state {
		r, c := w.Dims()
		blobs = append(blobs, tensorData{
			Name: name,
			R:    r,
			C:    c,
			Data: append([]float64(nil), mat.DenseCopyOf(w).RawMatrix().Data...),
		})
	}
	if err := gob.NewEncoder(f).Encode(blobs); err != nil {
		return errors.Wrapf(err, "encode checkpoint %d", step)
	}
	return nil
}

// Load reads the state dict saved under step. A missing step yields
// ErrCheckpointNotFound (detectable with errors.Is); any other failure
// is an I/O error.
func (s *CheckpointStore) Load(step int) (map[string]*mat.Dense, error) {
	f, err := os.Open(s.path(step))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrCheckpointNotFound, "step %d", step)
		}
		return nil, errors.Wrapf(err, "open checkpoint %d", step)
	}
	defer f.Close()

	var blobs []tensorData
	if err := gob.NewDecoder(f).Decode(&blobs); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %d", step)
	}
	state := make(map[string]*mat.Dense, len(blobs))
	for _, b := range blobs {
		if len(b.Data) != b.R*b.C {
			return nil, errors.Errorf("checkpoint %d: tensor %s has %d values, want %d", step, b.Name, len(b.Data), b.R*b.C)
		}
		state[b.Name] = mat.NewDense(b.R, b.C, b.Data)
	}
	return state, nil
}
