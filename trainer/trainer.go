// Package trainer fits a transcription network to labeled
// feature sequences with CTC and Adam.
package trainer

import (
	"errors"
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/speechcrnn/crnn"
	"github.com/unixpickle/speechcrnn/ctc"
	"github.com/unixpickle/speechcrnn/seqbatch"
)

// ErrAllDropped is returned by Fetch when every sample in
// the requested subset had a label too long for its
// downsampled output length.
var ErrAllDropped = errors.New("fetch batch: every sample was dropped")

// A SampleList is an anysgd.SampleList with a way to load
// the underlying samples.
type SampleList interface {
	anysgd.SampleList
	GetSample(i int) (*seqbatch.Sample, error)
}

// A Batch is a fetched, assembled mini-batch.
type Batch struct {
	Batch *seqbatch.Batch

	// NumDropped counts the samples that were left out
	// because their label could not fit in their
	// downsampled output length.
	NumDropped int
}

// A Trainer creates batches, computes masked CTC costs,
// and computes gradients for a network.
//
// The methods of a Trainer are not safe for concurrent
// use, except that Fetch may run while Gradient runs on a
// previously fetched batch.
type Trainer struct {
	Net    *crnn.Network
	Params []*anydiff.Var

	// Average indicates whether or not the total cost
	// should be averaged over the samples that produced a
	// finite cost.
	// This affects gradients, LastCost, and the output of
	// TotalCost().
	Average bool

	// After every gradient computation, LastCost is set to
	// the cost from the batch.
	LastCost anyvec.Numeric

	// After every cost computation, LastNonFinite is set
	// to the number of samples whose cost came back NaN or
	// infinite and was masked out of the total.
	LastNonFinite int
}

// Fetch produces a *Batch for the subset of samples.
// The s argument must implement SampleList, and it may
// not be empty.
//
// Samples whose label is longer than their downsampled
// output length can never be aligned, so they are dropped
// and counted on the resulting batch.
// Fetch fails if every sample is dropped or if a sample
// cannot be loaded.
func (t *Trainer) Fetch(s anysgd.SampleList) (anysgd.Batch, error) {
	if s.Len() == 0 {
		return nil, errors.New("fetch batch: empty batch")
	}
	l, ok := s.(SampleList)
	if !ok {
		return nil, fmt.Errorf("fetch batch: unexpected list type %T", s)
	}
	samples := make([]*seqbatch.Sample, 0, l.Len())
	var dropped int
	for i := 0; i < l.Len(); i++ {
		sample, err := l.GetSample(i)
		if err != nil {
			return nil, essentials.AddCtx("fetch batch", err)
		}
		if len(sample.Features) == 0 {
			return nil, fmt.Errorf("fetch batch: sample %d: no channels", i)
		}
		frames := len(sample.Features[0])
		if frames > t.Net.TimeCap {
			frames = t.Net.TimeCap
		}
		if len(sample.Label) > t.Net.OutputLength(frames) {
			dropped++
			continue
		}
		samples = append(samples, sample)
	}
	if len(samples) == 0 {
		return nil, ErrAllDropped
	}
	batch, err := seqbatch.Assemble(t.Net.Creator(), samples, t.Net.TimeCap)
	if err != nil {
		return nil, essentials.AddCtx("fetch batch", err)
	}
	return &Batch{Batch: batch, NumDropped: dropped}, nil
}

// TotalCost computes the total cost for the batch.
//
// Costs that come back NaN or infinite are masked out of
// the sum and counted in LastNonFinite, so one degenerate
// sample cannot poison the whole batch's gradient.
func (t *Trainer) TotalCost(b *Batch) anydiff.Res {
	outSeq, err := t.Net.Apply(b.Batch)
	if err != nil {
		panic(err)
	}
	costs := ctc.Cost(outSeq, b.Batch.LabelSeqs())

	mask := make([]float64, costs.Output().Len())
	var finite int
	for i, x := range vectorFloats(costs.Output()) {
		if !math.IsInf(x, 0) && !math.IsNaN(x) {
			mask[i] = 1
			finite++
		}
	}
	t.LastNonFinite = len(mask) - finite

	var sum anydiff.Res
	if finite == len(mask) {
		sum = anydiff.Sum(costs)
	} else {
		sum = maskedSum(costs, mask)
	}
	if t.Average && finite > 0 {
		c := costs.Output().Creator()
		return anydiff.Scale(sum, c.MakeNumeric(1/float64(finite)))
	}
	return sum
}

// maskedSum sums the entries of in whose mask entry is 1.
//
// Masked entries contribute nothing to the output and
// receive a zero upstream during propagation, which keeps
// infinities from turning the sum or the gradient into
// NaN.
func maskedSum(in anydiff.Res, mask []float64) anydiff.Res {
	var sum float64
	for i, x := range vectorFloats(in.Output()) {
		if mask[i] != 0 {
			sum += x
		}
	}
	c := in.Output().Creator()
	return &maskedSumRes{
		In:     in,
		Mask:   mask,
		OutVec: c.MakeVectorData(c.MakeNumericList([]float64{sum})),
	}
}

type maskedSumRes struct {
	In     anydiff.Res
	Mask   []float64
	OutVec anyvec.Vector
}

func (m *maskedSumRes) Output() anyvec.Vector {
	return m.OutVec
}

func (m *maskedSumRes) Vars() anydiff.VarSet {
	return m.In.Vars()
}

func (m *maskedSumRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	scaler := vectorFloats(u)[0]
	downstream := make([]float64, len(m.Mask))
	for i, x := range m.Mask {
		downstream[i] = x * scaler
	}
	c := u.Creator()
	m.In.Propagate(c.MakeVectorData(c.MakeNumericList(downstream)), g)
}

// Gradient computes the gradient for the batch's cost.
// It also sets t.LastCost to the numerical value of the
// total cost.
//
// The b argument must be a *Batch.
func (t *Trainer) Gradient(b anysgd.Batch) anydiff.Grad {
	res := anydiff.NewGrad(t.Params...)

	cost := t.TotalCost(b.(*Batch))
	t.LastCost = anyvec.Sum(cost.Output())

	c := cost.Output().Creator()
	data := c.MakeNumericList([]float64{1})
	upstream := c.MakeVectorData(data)
	cost.Propagate(upstream, res)

	return res
}

func vectorFloats(v anyvec.Vector) []float64 {
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
