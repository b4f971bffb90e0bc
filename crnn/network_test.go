package crnn

import (
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/serializer"
	"github.com/unixpickle/speechcrnn/ctc"
	"github.com/unixpickle/speechcrnn/seqbatch"
	"github.com/unixpickle/speechcrnn/vocab"
)

func TestNewNetworkDims(t *testing.T) {
	c := anyvec32.CurrentCreator()
	net, err := NewNetwork(c, 8, 16, 10, 5)
	if err != nil {
		t.Fatal(err)
	}
	if net.TimeReduction != 4 {
		t.Errorf("expected time reduction 4 but got %d", net.TimeReduction)
	}
	if net.RowLen != 2*64 {
		t.Errorf("expected row length 128 but got %d", net.RowLen)
	}
	if net.OutSize() != 5 {
		t.Errorf("expected out size 5 but got %d", net.OutSize())
	}
	lengths := map[int]int{16: 4, 15: 3, 8: 2, 4: 1, 3: 0}
	for in, out := range lengths {
		if actual := net.OutputLength(in); actual != out {
			t.Errorf("output length of %d: expected %d but got %d", in, out, actual)
		}
	}
}

func TestNewNetworkValidation(t *testing.T) {
	c := anyvec32.CurrentCreator()
	cases := []struct {
		Name     string
		Channels int
		TimeCap  int
		State    int
		Labels   int
	}{
		{"OddChannels", 6, 16, 10, 5},
		{"ZeroChannels", 0, 16, 10, 5},
		{"OddTimeCap", 8, 18, 10, 5},
		{"ZeroTimeCap", 8, 0, 10, 5},
		{"ZeroState", 8, 16, 0, 5},
		{"OneLabel", 8, 16, 10, 1},
	}
	for _, test := range cases {
		_, err := NewNetwork(c, test.Channels, test.TimeCap, test.State, test.Labels)
		if err == nil {
			t.Errorf("%s: expected an error", test.Name)
		}
	}
}

func TestNetworkApply(t *testing.T) {
	c := anyvec32.CurrentCreator()
	net, err := NewNetwork(c, 4, 8, 6, 4)
	if err != nil {
		t.Fatal(err)
	}
	batch := applyTestBatch(t, 8, 5)
	out, err := net.Apply(batch)
	if err != nil {
		t.Fatal(err)
	}

	steps := out.Output()
	if len(steps) != 2 {
		t.Fatalf("expected 2 timesteps but got %d", len(steps))
	}
	if !reflect.DeepEqual(steps[0].Present, []bool{true, true}) ||
		!reflect.DeepEqual(steps[1].Present, []bool{true, false}) {
		t.Errorf("unexpected presence: %v then %v", steps[0].Present,
			steps[1].Present)
	}
	for i, step := range steps {
		expectedLen := step.NumPresent() * net.OutSize()
		if step.Packed.Len() != expectedLen {
			t.Errorf("step %d: expected %d values but got %d", i, expectedLen,
				step.Packed.Len())
		}
		probs := vecData(step.Packed)
		for j := 0; j < step.NumPresent(); j++ {
			var sum float64
			for _, x := range probs[j*net.OutSize() : (j+1)*net.OutSize()] {
				sum += math.Exp(x)
			}
			if math.Abs(sum-1) > 1e-2 {
				t.Errorf("step %d: row %d: probabilities sum to %v", i, j, sum)
			}
		}
	}
}

func TestNetworkApplyErrors(t *testing.T) {
	c := anyvec32.CurrentCreator()
	net, err := NewNetwork(c, 4, 8, 6, 4)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := net.Apply(applyTestBatch(t, 8, 3)); err == nil {
		t.Error("expected an error for a sample below the time reduction")
	}

	narrow, err := seqbatch.Assemble(c, []*seqbatch.Sample{
		{Features: [][]float64{{1, 2, 3, 4, 5, 6, 7, 8}}, Label: []int{1}},
	}, 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := net.Apply(narrow); err == nil {
		t.Error("expected an error for a channel mismatch")
	}

	long := applyTestBatch(t, 8, 5)
	long.TimeCap = 12
	if _, err := net.Apply(long); err == nil {
		t.Error("expected an error for a time capacity mismatch")
	}
}

func TestNetworkGradientFlow(t *testing.T) {
	c := anyvec32.CurrentCreator()
	net, err := NewNetwork(c, 4, 8, 6, 4)
	if err != nil {
		t.Fatal(err)
	}
	batch := applyTestBatch(t, 8, 5)
	out, err := net.Apply(batch)
	if err != nil {
		t.Fatal(err)
	}
	cost := ctc.Cost(out, batch.LabelSeqs())

	params := net.Parameters()
	grad := anydiff.NewGrad(params...)
	upstream := c.MakeVectorData(c.MakeNumericList([]float64{1, 1}))
	cost.Propagate(upstream, grad)

	for i, p := range params {
		vec, ok := grad[p]
		if !ok {
			t.Errorf("parameter %d has no gradient", i)
			continue
		}
		var nonZero bool
		for _, x := range vecData(vec) {
			if x != 0 {
				nonZero = true
				break
			}
		}
		if !nonZero {
			t.Errorf("parameter %d has an all-zero gradient", i)
		}
	}
}

func TestNetworkSerialize(t *testing.T) {
	c := anyvec32.CurrentCreator()
	net, err := NewNetwork(c, 4, 8, 6, 4)
	if err != nil {
		t.Fatal(err)
	}
	data, err := serializer.SerializeAny(net)
	if err != nil {
		t.Fatal(err)
	}
	var net2 *Network
	if err := serializer.DeserializeAny(data, &net2); err != nil {
		t.Fatal(err)
	}
	if net2.NumChannels != net.NumChannels || net2.TimeCap != net.TimeCap ||
		net2.TimeReduction != net.TimeReduction || net2.RowLen != net.RowLen {
		t.Fatalf("dimensions changed: %v", net2)
	}

	batch := applyTestBatch(t, 8, 5)
	out1, err := net.Apply(batch)
	if err != nil {
		t.Fatal(err)
	}
	out2, err := net2.Apply(batch)
	if err != nil {
		t.Fatal(err)
	}
	for i, step := range out1.Output() {
		actual := vecData(out2.Output()[i].Packed)
		expected := vecData(step.Packed)
		if !reflect.DeepEqual(actual, expected) {
			t.Errorf("step %d: expected %v but got %v", i, expected, actual)
		}
	}
}

func TestNetworkTranscribe(t *testing.T) {
	c := anyvec32.CurrentCreator()
	v := vocab.Default()
	net, err := NewNetwork(c, 4, 8, 6, v.Size())
	if err != nil {
		t.Fatal(err)
	}
	features := randomFeatures(4, 10)
	if _, err := net.Transcribe(v, features); err != nil {
		t.Fatal(err)
	}

	small, err := NewNetwork(c, 4, 8, 6, 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := small.Transcribe(v, features); err == nil {
		t.Error("expected an error for a vocabulary size mismatch")
	}
}

func applyTestBatch(t *testing.T, lens ...int) *seqbatch.Batch {
	c := anyvec32.CurrentCreator()
	samples := make([]*seqbatch.Sample, len(lens))
	for i, l := range lens {
		samples[i] = &seqbatch.Sample{
			Features: randomFeatures(4, l),
			Label:    []int{1, 2},
		}
	}
	batch, err := seqbatch.Assemble(c, samples, 8)
	if err != nil {
		t.Fatal(err)
	}
	return batch
}

func randomFeatures(channels, frames int) [][]float64 {
	res := make([][]float64, channels)
	for i := range res {
		res[i] = make([]float64, frames)
		for j := range res[i] {
			res[i][j] = rand.NormFloat64()
		}
	}
	return res
}
