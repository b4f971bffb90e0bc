package crnn

import (
	"fmt"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/speechcrnn/ctc"
	"github.com/unixpickle/speechcrnn/seqbatch"
	"github.com/unixpickle/speechcrnn/vocab"
)

// Transcribe runs the network over a single utterance and
// decodes the greedy best path into a transcript.
//
// The features are channel-major, like the features of a
// seqbatch.Sample.
// Inputs longer than the network's time capacity are
// truncated.
func (n *Network) Transcribe(v *vocab.Vocab, features [][]float64) (string, error) {
	if v.Size() != n.OutSize() {
		return "", fmt.Errorf("transcribe: vocabulary has %d codes but the "+
			"network emits %d", v.Size(), n.OutSize())
	}
	c := n.Creator()
	packed, lens, err := seqbatch.PackFeatures(c, [][][]float64{features}, n.TimeCap)
	if err != nil {
		return "", essentials.AddCtx("transcribe", err)
	}
	batch := &seqbatch.Batch{
		Features:    packed,
		InputLens:   lens,
		NumSamples:  1,
		NumChannels: len(features),
		TimeCap:     n.TimeCap,
	}
	out, err := n.Apply(batch)
	if err != nil {
		return "", essentials.AddCtx("transcribe", err)
	}
	return v.Decode(ctc.BestPaths(out)[0]), nil
}
