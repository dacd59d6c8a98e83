// Package dataio provides the pretraining run's file surfaces: the
// interaction dataset with its fixed-shape batch loader, the step-keyed
// checkpoint store, and the append-only metrics sink.
package dataio

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Batch is one fixed-shape slice of the dataset. History is a
// (batch x L) block of item-id tokens, left-padded with 0; 0 never
// denotes a real item. HistoryRatings aligns with History and carries 0
// at padding positions.
type Batch struct {
	Users          []int
	History        [][]int
	TargetItems    []int
	HistoryRatings *mat.Dense
	TargetRatings  *mat.VecDense
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int {
	return len(b.Users)
}

type example struct {
	user       int
	history    []int
	ratings    []float64
	targetItem int
	targetRate float64
}

// Dataset holds remapped interactions: user ids in [0, NumUsers), item
// ids in [1, NumItems] with 0 reserved for padding.
type Dataset struct {
	NumUsers int
	NumItems int

	examples []example
}

type interaction struct {
	item   int
	rating float64
}

// LoadInteractions reads whitespace-separated "user item rating" lines,
// chronologically ordered per user, and builds one example per user
// with at least minSequence interactions: the last interaction is the
// prediction target and the preceding ones form the history, truncated
// to the most recent seqLen and left-padded with 0.
func LoadInteractions(path string, seqLen, minSequence int) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open interactions %s", path)
	}
	defer f.Close()

	rawUsers := map[string][]interaction{}
	order := []string{}
	itemIDs := map[string]int{}

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 3 {
			return nil, errors.Errorf("line %d: want \"user item rating\", got %q", line, sc.Text())
		}
		rating, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: bad rating", line)
		}
		if _, ok := rawUsers[fields[0]]; !ok {
			order = append(order, fields[0])
		}
		if _, ok := itemIDs[fields[1]]; !ok {
			itemIDs[fields[1]] = len(itemIDs) + 1 // 0 is padding
		}
		rawUsers[fields[0]] = append(rawUsers[fields[0]], interaction{item: itemIDs[fields[1]], rating: rating})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scan interactions")
	}

	ds := &Dataset{NumItems: len(itemIDs)}
	for _, u := range order {
		seq := rawUsers[u]
		if len(seq) < minSequence {
			continue
		}
		uid := ds.NumUsers
		ds.NumUsers++
		last := seq[len(seq)-1]
		hist := seq[:len(seq)-1]
		if len(hist) > seqLen {
			hist = hist[len(hist)-seqLen:]
		}
		ex := example{
			user:       uid,
			history:    make([]int, seqLen),
			ratings:    make([]float64, seqLen),
			targetItem: last.item,
			targetRate: last.rating,
		}
		offset := seqLen - len(hist)
		for i, it := range hist {
			ex.history[offset+i] = it.item
			ex.ratings[offset+i] = it.rating
		}
		ds.examples = append(ds.examples, ex)
	}
	if len(ds.examples) == 0 {
		return nil, errors.Errorf("no user in %s has >= %d interactions", path, minSequence)
	}
	return ds, nil
}

// Split shuffles users with the given seed and carves off validFrac of
// them for validation. The split is deterministic for a fixed seed.
func (d *Dataset) Split(validFrac float64, seed int64) (train, valid *Dataset) {
	idx := make([]int, len(d.examples))
	for i := range idx {
		idx[i] = i
	}
	rand.New(rand.NewSource(seed)).Shuffle(len(idx), func(i, j int) {
		idx[i], idx[j] = idx[j], idx[i]
	})
	nValid := int(float64(len(idx)) * validFrac)
	if nValid < 1 && len(idx) > 1 {
		nValid = 1
	}
	validIdx := append([]int(nil), idx[:nValid]...)
	trainIdx := append([]int(nil), idx[nValid:]...)
	sort.Ints(validIdx)
	sort.Ints(trainIdx)

	pick := func(ids []int) *Dataset {
		out := &Dataset{NumUsers: d.NumUsers, NumItems: d.NumItems}
		for _, i := range ids {
			out.examples = append(out.examples, d.examples[i])
		}
		return out
	}
	return pick(trainIdx), pick(validIdx)
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	return len(d.examples)
}

// Loader serves the dataset as fixed-shape batches in a stable order.
// The final batch may be short; it is never dropped.
type Loader struct {
	ds        *Dataset
	batchSize int
}

func NewLoader(ds *Dataset, batchSize int) *Loader {
	if batchSize < 1 {
		panic("dataio: batch size must be >= 1")
	}
	return &Loader{ds: ds, batchSize: batchSize}
}

// NumBatches reports how many batches one pass over the data yields.
func (l *Loader) NumBatches() int {
	return (len(l.ds.examples) + l.batchSize - 1) / l.batchSize
}

// Batch materializes batch i. Panics when i is out of range.
func (l *Loader) Batch(i int) *Batch {
	if i < 0 || i >= l.NumBatches() {
		panic(fmt.Sprintf("dataio: batch index %d out of range [0,%d)", i, l.NumBatches()))
	}
	lo := i * l.batchSize
	hi := lo + l.batchSize
	if hi > len(l.ds.examples) {
		hi = len(l.ds.examples)
	}
	exs := l.ds.examples[lo:hi]
	b := hi - lo
	seqLen := len(exs[0].history)

	batch := &Batch{
		Users:          make([]int, b),
		History:        make([][]int, b),
		TargetItems:    make([]int, b),
		HistoryRatings: mat.NewDense(b, seqLen, nil),
		TargetRatings:  mat.NewVecDense(b, nil),
	}
	for j, ex := range exs {
		batch.Users[j] = ex.user
		batch.History[j] = ex.history
		batch.TargetItems[j] = ex.targetItem
		batch.HistoryRatings.SetRow(j, ex.ratings)
		batch.TargetRatings.SetVec(j, ex.targetRate)
	}
	return batch
}
