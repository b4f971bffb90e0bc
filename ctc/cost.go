package ctc

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
)

// Cost computes the cost for a batch of output sequences.
// The cost for each sequence is the negative log
// likelihood of the corresponding label.
//
// The i-th output at each timestep is the log probability
// of vocabulary code i, so the blank symbol's output
// comes first.
// Labels must not contain the blank code.
//
// A label that is impossible to emit within its sequence,
// for example one longer than the sequence itself, yields
// an infinite cost rather than an error.
//
// The anyvec.Creator must use an anyvec.NumericList type
// []float32 or []float64.
// No other numeric types are supported.
func Cost(seqs anyseq.Seq, labels [][]int) anydiff.Res {
	if len(seqs.Output()) == 0 {
		return anydiff.NewConst(seqs.Creator().MakeVector(0))
	}
	if len(labels) != len(seqs.Output()[0].Present) {
		panic("number of labels must match the batch size")
	}
	for _, label := range labels {
		for _, x := range label {
			if x == Blank {
				panic("labels may not contain the blank code")
			}
		}
	}
	return anydiff.Scale(pool(seqs, func(in [][]anydiff.Res) anydiff.Res {
		res := make([]anydiff.Res, len(in))
		for i, x := range in {
			res[i] = logLikelihood(internalCreator, x, labels[i])
		}
		return anydiff.Concat(res...)
	}), seqs.Creator().MakeNumeric(-1))
}

// poolRes computes a result from pooled per-sequence
// variables so that the expensive likelihood graph only
// back-propagates into each sequence once.
// The pools use 64-bit vectors regardless of the input
// sequence's creator.
type poolRes struct {
	In      anyseq.Seq
	Pools   []*anydiff.Var
	Lengths []int
	Res     anydiff.Res
	OutVec  anyvec.Vector
}

func pool(seqs anyseq.Seq, f func(in [][]anydiff.Res) anydiff.Res) anydiff.Res {
	rawData := anyseq.SeparateSeqs(batchesTo64(seqs.Output()))
	pools := make([]*anydiff.Var, len(rawData))
	splitPools := make([][]anydiff.Res, len(rawData))
	lengths := make([]int, len(rawData))
	for i, raw := range rawData {
		pools[i] = anydiff.NewVar(internalCreator.Concat(raw...))
		splitPools[i] = splitRes(pools[i], len(raw))
		lengths[i] = len(raw)
	}
	res := f(splitPools)
	return &poolRes{
		In:      seqs,
		Pools:   pools,
		Lengths: lengths,
		Res:     res,
		OutVec:  vectorFrom64(seqs.Creator(), res.Output()),
	}
}

func (p *poolRes) Output() anyvec.Vector {
	return p.OutVec
}

func (p *poolRes) Vars() anydiff.VarSet {
	return p.In.Vars()
}

func (p *poolRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	for _, pvar := range p.Pools {
		g[pvar] = pvar.Vector.Creator().MakeVector(pvar.Vector.Len())
	}
	p.Res.Propagate(vectorTo64(u), g)
	downstream := make([][]anyvec.Vector, len(p.Pools))
	for i, pvar := range p.Pools {
		downstream[i] = splitVec(g[pvar], p.Lengths[i])
		delete(g, pvar)
	}
	joined := anyseq.ConstSeqList(internalCreator, downstream).Output()
	p.In.Propagate(batchesFrom64(p.In.Creator(), joined), g)
}

func splitVec(vec anyvec.Vector, parts int) []anyvec.Vector {
	if parts == 0 {
		return nil
	}
	res := make([]anyvec.Vector, parts)
	chunkSize := vec.Len() / parts
	for i := range res {
		res[i] = vec.Slice(i*chunkSize, (i+1)*chunkSize)
	}
	return res
}

func splitRes(res anydiff.Res, parts int) []anydiff.Res {
	if parts == 0 {
		return nil
	}
	reses := make([]anydiff.Res, parts)
	chunkSize := res.Output().Len() / parts
	for i := range reses {
		reses[i] = anydiff.Slice(res, i*chunkSize, (i+1)*chunkSize)
	}
	return reses
}
