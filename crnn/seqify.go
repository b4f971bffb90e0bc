package crnn

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
)

// A tensorSeq exposes the extractor's packed output
// tensor as a batched sequence.
//
// The input holds stepsCap rows of rowLen values per
// sample.
// Sample i is present for the first outLens[i] timesteps;
// its remaining rows come from padding and are dropped.
type tensorSeq struct {
	In       anydiff.Res
	StepsCap int
	RowLen   int
	OutLens  []int
	Out      []*anyseq.Batch
}

func newTensorSeq(in anydiff.Res, stepsCap, rowLen int, outLens []int) anyseq.Seq {
	c := in.Output().Creator()
	var maxLen int
	for _, l := range outLens {
		if l > maxLen {
			maxLen = l
		}
	}
	out := make([]*anyseq.Batch, 0, maxLen)
	for t := 0; t < maxLen; t++ {
		present := make([]bool, len(outLens))
		var rows []anyvec.Vector
		for i, l := range outLens {
			if t < l {
				present[i] = true
				start := (i*stepsCap + t) * rowLen
				rows = append(rows, in.Output().Slice(start, start+rowLen))
			}
		}
		out = append(out, &anyseq.Batch{
			Packed:  c.Concat(rows...),
			Present: present,
		})
	}
	return &tensorSeq{
		In:       in,
		StepsCap: stepsCap,
		RowLen:   rowLen,
		OutLens:  outLens,
		Out:      out,
	}
}

func (t *tensorSeq) Creator() anyvec.Creator {
	return t.In.Output().Creator()
}

func (t *tensorSeq) Output() []*anyseq.Batch {
	return t.Out
}

func (t *tensorSeq) Vars() anydiff.VarSet {
	return t.In.Vars()
}

func (t *tensorSeq) Propagate(u []*anyseq.Batch, g anydiff.Grad) {
	c := t.In.Output().Creator()
	zeroRow := c.MakeVector(t.RowLen)
	parts := make([]anyvec.Vector, 0, len(t.OutLens)*t.StepsCap)
	for i, l := range t.OutLens {
		for step := 0; step < t.StepsCap; step++ {
			if step >= l {
				parts = append(parts, zeroRow)
				continue
			}
			batch := u[step]
			idx := presentBefore(batch.Present, i)
			parts = append(parts, batch.Packed.Slice(idx*t.RowLen, (idx+1)*t.RowLen))
		}
	}
	t.In.Propagate(c.Concat(parts...), g)
}

func presentBefore(present []bool, idx int) int {
	var count int
	for _, p := range present[:idx] {
		if p {
			count++
		}
	}
	return count
}
