package featstore

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/unixpickle/speechcrnn/vocab"
)

func TestStoreRoundTrip(t *testing.T) {
	store := testStore(t)
	clip := &Clip{
		Transcript: "hey",
		Features: map[string]*Matrix{
			"melspectrogram": {Rows: 2, Cols: 3, Data: []float32{1, 2, 3, 4, 5, 6}},
		},
	}
	if err := store.SetClip("clip1", clip); err != nil {
		t.Fatal(err)
	}
	got, err := store.Clip("clip1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, clip) {
		t.Errorf("expected %v but got %v", clip, got)
	}
}

func TestStoreNotFound(t *testing.T) {
	store := testStore(t)
	if _, err := store.Clip("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound but got %v", err)
	}
}

func TestStoreIDs(t *testing.T) {
	store := testStore(t)
	for _, id := range []string{"b", "a", "c"} {
		mustSet(t, store, id, &Clip{Transcript: "x"})
	}
	ids, err := store.IDs()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Errorf("expected sorted IDs but got %v", ids)
	}
}

func TestStoreSetClips(t *testing.T) {
	store := testStore(t)
	clips := map[string]*Clip{
		"one": {Transcript: "one"},
		"two": {Transcript: "two"},
	}
	if err := store.SetClips(clips); err != nil {
		t.Fatal(err)
	}
	for id, clip := range clips {
		got, err := store.Clip(id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Transcript != clip.Transcript {
			t.Errorf("clip %s: expected %q but got %q", id, clip.Transcript,
				got.Transcript)
		}
	}
}

func TestMatrixFloats(t *testing.T) {
	mat := &Matrix{Rows: 2, Cols: 3, Data: []float32{1, 2, 3, 4, 5, 6}}
	floats, err := mat.Floats()
	if err != nil {
		t.Fatal(err)
	}
	expected := [][]float64{{1, 2, 3}, {4, 5, 6}}
	if !reflect.DeepEqual(floats, expected) {
		t.Errorf("expected %v but got %v", expected, floats)
	}

	bad := []*Matrix{
		{Rows: 2, Cols: 2, Data: []float32{1}},
		{Rows: 0, Cols: 3, Data: []float32{}},
		{Rows: -1, Cols: 1, Data: []float32{1}},
	}
	for i, mat := range bad {
		if _, err := mat.Floats(); err == nil {
			t.Errorf("matrix %d: expected an error", i)
		}
	}
}

func TestSampleList(t *testing.T) {
	store := testStore(t)
	feats := map[string]*Matrix{
		"mel": {Rows: 1, Cols: 2, Data: []float32{0.5, 0.25}},
	}
	mustSet(t, store, "a", &Clip{Transcript: "ab", Features: feats})
	mustSet(t, store, "b", &Clip{Transcript: "x", Features: map[string]*Matrix{
		"other": feats["mel"],
	}})
	mustSet(t, store, "c", &Clip{Transcript: "", Features: feats})
	mustSet(t, store, "d", &Clip{Transcript: "é", Features: feats})
	mustSet(t, store, "e", &Clip{Transcript: "hi", Features: map[string]*Matrix{
		"mel": {Rows: 2, Cols: 2, Data: []float32{1}},
	}})

	list, err := store.Samples(vocab.Default(), "mel")
	if err != nil {
		t.Fatal(err)
	}
	if list.Len() != 5 {
		t.Fatalf("expected 5 samples but got %d", list.Len())
	}

	sample, err := list.GetSample(0)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sample.Features, [][]float64{{0.5, 0.25}}) {
		t.Errorf("unexpected features: %v", sample.Features)
	}
	if !reflect.DeepEqual(sample.Label, []int{2, 3}) {
		t.Errorf("expected label [2 3] but got %v", sample.Label)
	}

	for i, reason := range map[int]string{
		1: "missing feature",
		2: "empty transcript",
		3: "unknown symbol",
		4: "malformed matrix",
	} {
		if _, err := list.GetSample(i); err == nil {
			t.Errorf("sample %d: expected an error for %s", i, reason)
		}
	}
}

func TestSampleListSlice(t *testing.T) {
	store := testStore(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		mustSet(t, store, id, &Clip{Transcript: "x"})
	}
	list, err := store.Samples(vocab.Default(), "mel")
	if err != nil {
		t.Fatal(err)
	}

	sub := list.Slice(1, 3).(*SampleList)
	if sub.Len() != 2 {
		t.Fatalf("expected 2 samples but got %d", sub.Len())
	}
	sub.Swap(0, 1)
	if list.ID(1) != "b" || list.ID(2) != "c" {
		t.Error("slicing should copy the ID list")
	}
	if sub.ID(0) != "c" || sub.ID(1) != "b" {
		t.Errorf("unexpected slice order: %s, %s", sub.ID(0), sub.ID(1))
	}

	if !bytes.Equal(list.Hash(1), sub.Hash(1)) {
		t.Error("hashes should depend only on the ID")
	}
	if bytes.Equal(list.Hash(0), list.Hash(1)) {
		t.Error("different IDs should hash differently")
	}
}

func mustSet(t *testing.T, store *Store, id string, clip *Clip) {
	t.Helper()
	if err := store.SetClip(id, clip); err != nil {
		t.Fatal(err)
	}
}

func testStore(t *testing.T) *Store {
	store, err := OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
