package seqbatch

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
)

func TestAssemblePadding(t *testing.T) {
	c := anyvec32.CurrentCreator()
	samples := []*Sample{
		{Features: [][]float64{{1, 2, 3, 4, 5}}, Label: []int{1}},
		{Features: [][]float64{{1, 2, 3, 4, 5, 6, 7, 8}}, Label: []int{1}},
		{Features: [][]float64{{9, 8, 7}}, Label: []int{1}},
	}
	batch, err := Assemble(c, samples, 0)
	if err != nil {
		t.Fatal(err)
	}
	if batch.TimeCap != 8 {
		t.Errorf("expected time cap 8 but got %d", batch.TimeCap)
	}
	if !reflect.DeepEqual(batch.InputLens, []int{5, 8, 3}) {
		t.Errorf("expected input lengths [5 8 3] but got %v", batch.InputLens)
	}
	expected := []float64{
		1, 2, 3, 4, 5, 0, 0, 0,
		1, 2, 3, 4, 5, 6, 7, 8,
		9, 8, 7, 0, 0, 0, 0, 0,
	}
	if actual := vecFloats(batch.Features); !reflect.DeepEqual(actual, expected) {
		t.Errorf("expected features %v but got %v", expected, actual)
	}
	if err := batch.Check(); err != nil {
		t.Error(err)
	}
}

func TestAssembleInterleave(t *testing.T) {
	c := anyvec32.CurrentCreator()
	samples := []*Sample{
		{Features: [][]float64{{1, 2}, {3, 4}}, Label: []int{2}},
		{Features: [][]float64{{5}, {6}}, Label: []int{1}},
	}
	batch, err := Assemble(c, samples, 0)
	if err != nil {
		t.Fatal(err)
	}
	if batch.NumChannels != 2 || batch.TimeCap != 2 {
		t.Fatalf("expected 2 channels and time cap 2 but got %d and %d",
			batch.NumChannels, batch.TimeCap)
	}
	expected := []float64{
		1, 3, 2, 4,
		5, 6, 0, 0,
	}
	if actual := vecFloats(batch.Features); !reflect.DeepEqual(actual, expected) {
		t.Errorf("expected features %v but got %v", expected, actual)
	}
}

func TestAssembleTruncation(t *testing.T) {
	c := anyvec32.CurrentCreator()
	samples := []*Sample{
		{Features: [][]float64{{10, 20, 30, 40, 50, 60}}, Label: []int{1, 2}},
		{Features: [][]float64{{1, 2, 3}}, Label: []int{3}},
	}
	batch, err := Assemble(c, samples, 4)
	if err != nil {
		t.Fatal(err)
	}
	if batch.TimeCap != 4 {
		t.Errorf("expected time cap 4 but got %d", batch.TimeCap)
	}
	if !reflect.DeepEqual(batch.InputLens, []int{4, 3}) {
		t.Errorf("expected input lengths [4 3] but got %v", batch.InputLens)
	}
	expected := []float64{
		10, 20, 30, 40,
		1, 2, 3, 0,
	}
	if actual := vecFloats(batch.Features); !reflect.DeepEqual(actual, expected) {
		t.Errorf("expected features %v but got %v", expected, actual)
	}
}

func TestAssembleLabels(t *testing.T) {
	c := anyvec32.CurrentCreator()
	samples := []*Sample{
		{Features: [][]float64{{1}}, Label: []int{3, 1}},
		{Features: [][]float64{{1}}, Label: []int{2}},
		{Features: [][]float64{{1}}, Label: []int{4, 4, 1}},
	}
	batch, err := Assemble(c, samples, 0)
	if err != nil {
		t.Fatal(err)
	}
	if batch.LabelCap != 3 {
		t.Errorf("expected label cap 3 but got %d", batch.LabelCap)
	}
	if !reflect.DeepEqual(batch.Labels, []int{3, 1, 0, 2, 0, 0, 4, 4, 1}) {
		t.Errorf("unexpected packed labels: %v", batch.Labels)
	}
	if !reflect.DeepEqual(batch.LabelLens, []int{2, 1, 3}) {
		t.Errorf("expected label lengths [2 1 3] but got %v", batch.LabelLens)
	}
	if !reflect.DeepEqual(batch.Label(2), []int{4, 4, 1}) {
		t.Errorf("unexpected label 2: %v", batch.Label(2))
	}
	seqs := batch.LabelSeqs()
	if !reflect.DeepEqual(seqs, [][]int{{3, 1}, {2}, {4, 4, 1}}) {
		t.Errorf("unexpected label sequences: %v", seqs)
	}
}

func TestAssembleErrors(t *testing.T) {
	c := anyvec32.CurrentCreator()
	valid := func() *Sample {
		return &Sample{Features: [][]float64{{1, 2}}, Label: []int{1}}
	}
	cases := []struct {
		Name    string
		Samples []*Sample
		TimeCap int
	}{
		{"NoSamples", nil, 0},
		{"NegativeCap", []*Sample{valid()}, -1},
		{"NoChannels", []*Sample{{Features: [][]float64{}, Label: []int{1}}}, 0},
		{"NoFrames", []*Sample{{Features: [][]float64{{}}, Label: []int{1}}}, 0},
		{"Ragged", []*Sample{{Features: [][]float64{{1, 2}, {3}}, Label: []int{1}}}, 0},
		{"ChannelMismatch", []*Sample{
			valid(),
			{Features: [][]float64{{1}, {2}}, Label: []int{1}},
		}, 0},
		{"EmptyLabel", []*Sample{{Features: [][]float64{{1}}, Label: []int{}}}, 0},
		{"BlankInLabel", []*Sample{{Features: [][]float64{{1}}, Label: []int{1, 0}}}, 0},
		{"NegativeCode", []*Sample{{Features: [][]float64{{1}}, Label: []int{-3}}}, 0},
	}
	for _, test := range cases {
		if _, err := Assemble(c, test.Samples, test.TimeCap); err == nil {
			t.Errorf("%s: expected an error", test.Name)
		}
	}
}

func TestBatchCheck(t *testing.T) {
	c := anyvec32.CurrentCreator()
	samples := []*Sample{
		{Features: [][]float64{{1, 2, 3}}, Label: []int{2, 1}},
		{Features: [][]float64{{4}}, Label: []int{3}},
	}
	batch, err := Assemble(c, samples, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := batch.Check(); err != nil {
		t.Fatal(err)
	}

	batch.InputLens[0] = 99
	if err := batch.Check(); err == nil {
		t.Error("expected an error for an oversized input length")
	}
	batch.InputLens[0] = 3

	batch.Labels[3] = 5
	if err := batch.Check(); err == nil {
		t.Error("expected an error for nonzero label padding")
	}
	batch.Labels[3] = 0

	batch.LabelLens = batch.LabelLens[:1]
	if err := batch.Check(); err == nil {
		t.Error("expected an error for a missing label length")
	}
}

func vecFloats(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float64:
		return data
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	default:
		panic(fmt.Sprintf("unsupported numeric type: %T", data))
	}
}
