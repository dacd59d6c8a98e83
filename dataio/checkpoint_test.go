package dataio

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestCheckpointRoundTrip(t *testing.T) {
	store, err := NewCheckpointStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	state := map[string]*mat.Dense{
		"emb":  mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6}),
		"bias": mat.NewDense(1, 1, []float64{-0.5}),
	}
	if err := store.Save(100, state); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d tensors, want 2", len(got))
	}
	for name, want := range state {
		if !mat.Equal(got[name], want) {
			t.Errorf("tensor %s differs after round trip", name)
		}
	}
}

func TestCheckpointOverwrite(t *testing.T) {
	store, err := NewCheckpointStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(7, map[string]*mat.Dense{"w": mat.NewDense(1, 1, []float64{1})}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(7, map[string]*mat.Dense{"w": mat.NewDense(1, 1, []float64{2})}); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(7)
	if err != nil {
		t.Fatal(err)
	}
	if got["w"].At(0, 0) != 2 {
		t.Fatalf("overwrite not visible: got %v", got["w"].At(0, 0))
	}
}

func TestCheckpointNotFound(t *testing.T) {
	store, err := NewCheckpointStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Load(12345)
	if !errors.Is(err, ErrCheckpointNotFound) {
		t.Fatalf("want ErrCheckpointNotFound, got %v", err)
	}
}
