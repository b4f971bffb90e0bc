package ctc

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
)

func TestCollapse(t *testing.T) {
	cases := []struct {
		Raw      []int
		Expected []int
	}{
		{[]int{0, 3, 3, 0, 5, 5, 5, 0}, []int{3, 5}},
		{[]int{3, 3, 0, 3}, []int{3, 3}},
		{[]int{0, 0, 0, 0}, []int{}},
		{[]int{}, []int{}},
		{[]int{7}, []int{7}},
		{[]int{1, 2, 3}, []int{1, 2, 3}},
		{[]int{0, 1, 1, 1, 0, 0, 1}, []int{1, 1}},
		{[]int{2, 2, 2}, []int{2}},
	}
	for _, test := range cases {
		actual := Collapse(test.Raw)
		if !reflect.DeepEqual(actual, test.Expected) {
			t.Errorf("collapse %v: expected %v but got %v", test.Raw,
				test.Expected, actual)
		}
		again := Collapse(test.Raw)
		if !reflect.DeepEqual(again, actual) {
			t.Errorf("collapse %v: got %v and then %v", test.Raw, actual, again)
		}
	}
}

func TestCollapseProperties(t *testing.T) {
	gen := rand.New(rand.NewSource(1337))
	for i := 0; i < 50; i++ {
		raw := make([]int, gen.Intn(30))
		for j := range raw {
			raw[j] = gen.Intn(4)
		}
		out := Collapse(raw)
		if len(out) > len(raw) {
			t.Errorf("collapse %v: length grew to %d", raw, len(out))
		}
		for _, x := range out {
			if x == Blank {
				t.Errorf("collapse %v: output %v contains a blank", raw, out)
				break
			}
		}
	}
}

func TestBestPaths(t *testing.T) {
	c := anyvec32.CurrentCreator()
	// Each distribution is over a blank and three symbols.
	// The third sequence has an exact tie at its first
	// timestep, which must go to the lowest code.
	seqs := [][][]float64{
		{spike(2), spike(0), spike(1)},
		{spike(0), spike(0)},
		{{0.1, 0.4, 0.4, 0.1}, spike(1)},
		{spike(3), spike(3), spike(0), spike(3)},
	}
	expected := [][]int{
		{2, 1},
		{},
		{1},
		{3, 3},
	}
	vecs := make([][]anyvec.Vector, len(seqs))
	for i, seq := range seqs {
		vecs[i] = make([]anyvec.Vector, len(seq))
		for j, probs := range seq {
			vecs[i][j] = c.MakeVectorData(c.MakeNumericList(probs))
		}
	}
	actual := BestPaths(anyseq.ConstSeqList(c, vecs))
	if !reflect.DeepEqual(actual, expected) {
		t.Errorf("expected %v but got %v", expected, actual)
	}
}

func spike(idx int) []float64 {
	res := make([]float64, 4)
	for i := range res {
		res[i] = 0.05
	}
	res[idx] = 0.85
	return res
}
