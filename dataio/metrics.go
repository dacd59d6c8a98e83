package dataio

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// MetricsWriter is an append-only sink for scalar time series: one
// (metric, step, value) record per line. Series are keyed by name,
// e.g. "train/MSEloss".
type MetricsWriter struct {
	f *os.File
	w *csv.Writer
}

func NewMetricsWriter(path string) (*MetricsWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create metrics log %s", path)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"metric", "step", "value"}); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "write metrics header")
	}
	return &MetricsWriter{f: f, w: w}, nil
}

// Add appends one scalar observation.
func (m *MetricsWriter) Add(name string, step int, value float64) error {
	err := m.w.Write([]string{name, strconv.Itoa(step), strconv.FormatFloat(value, 'g', -1, 64)})
	return errors.Wrapf(err, "append metric %s", name)
}

func (m *MetricsWriter) Close() error {
	m.w.Flush()
	if err := m.w.Error(); err != nil {
		m.f.Close()
		return errors.Wrap(err, "flush metrics log")
	}
	return m.f.Close()
}
