package ctc

import (
	"github.com/unixpickle/anydiff/anyseq"
)

// Blank is the vocabulary code of the CTC blank symbol.
const Blank = 0

// BestPaths produces the greedy best-path labeling for
// every output sequence in the batch.
//
// At each timestep the code with the highest output is
// selected; exact ties go to the lowest code, so decoding
// is deterministic.
// The raw path is then reduced with Collapse, so the
// result never contains the blank code and is never
// longer than the sequence itself.
//
// Because arg-max is invariant to monotonic rescaling,
// the outputs may be probabilities or log probabilities.
func BestPaths(seqs anyseq.Seq) [][]int {
	seps := anyseq.SeparateSeqs(batchesTo64(seqs.Output()))
	res := make([][]int, len(seps))
	for i, seq := range seps {
		raw := make([]int, len(seq))
		for t, vec := range seq {
			raw[t] = maxIndex(vec.Data().([]float64))
		}
		res[i] = Collapse(raw)
	}
	return res
}

func maxIndex(values []float64) int {
	var res int
	for i, x := range values {
		if x > values[res] {
			res = i
		}
	}
	return res
}

// Collapse reduces a raw best-path labeling to a label
// sequence.
// Timesteps repeating the previous timestep's code are
// dropped first, then every blank is removed.
//
// A blank between two equal codes keeps them distinct:
// [3 3 3] collapses to [3], while [3 3 0 3] collapses to
// [3 3].
// Without an intervening blank emission there is no way
// to represent a genuinely doubled symbol; that ambiguity
// is inherent to the encoding.
func Collapse(raw []int) []int {
	res := make([]int, 0, len(raw))
	prev := -1
	for _, x := range raw {
		if x == prev {
			continue
		}
		prev = x
		if x != Blank {
			res = append(res, x)
		}
	}
	return res
}
