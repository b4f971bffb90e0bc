// Package crnn implements the convolutional recurrent
// network that turns spectrogram batches into
// per-timestep log probabilities over vocabulary codes.
package crnn

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyconv"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/convmarkup"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	"github.com/unixpickle/speechcrnn/seqbatch"
)

func init() {
	var n Network
	serializer.RegisterTypedDeserializer(n.SerializerType(), DeserializeNetwork)
}

// The markup height is the time axis and the width is the
// feature channel axis, so each row of the output tensor
// is one downsampled timestep.
const extractorTemplate = `
Input(w=%d, h=%d, d=1)
Padding(t=1, r=1, b=1, l=1)
Conv(w=3, h=3, n=32)
ReLU
MaxPool(w=2, h=2)
Padding(t=1, r=1, b=1, l=1)
Conv(w=3, h=3, n=64)
ReLU
MaxPool(w=2, h=2)
`

// A Network maps batches of spectrograms to sequences of
// log probabilities over vocabulary codes.
//
// A convolutional extractor downsamples the time axis by
// TimeReduction, then two LSTM layers and a log-softmax
// classifier run over the downsampled timesteps.
//
// The convolutional layers bake in their input dimensions,
// so a Network only accepts batches whose channel count
// and time capacity match NumChannels and TimeCap.
type Network struct {
	NumChannels   int
	TimeCap       int
	TimeReduction int

	// RowLen is the number of values the extractor emits
	// per downsampled timestep.
	RowLen int

	Extractor  anynet.Net
	Rec1       *anyrnn.LSTM
	Rec2       *anyrnn.LSTM
	Classifier *anyrnn.LayerBlock
}

// DeserializeNetwork deserializes a Network.
func DeserializeNetwork(d []byte) (*Network, error) {
	var numChannels, timeCap, timeReduction, rowLen serializer.Int
	var extractor anynet.Net
	var rec1, rec2 *anyrnn.LSTM
	var classifier *anyrnn.LayerBlock
	err := serializer.DeserializeAny(d, &numChannels, &timeCap, &timeReduction,
		&rowLen, &extractor, &rec1, &rec2, &classifier)
	if err != nil {
		return nil, essentials.AddCtx("deserialize network", err)
	}
	return &Network{
		NumChannels:   int(numChannels),
		TimeCap:       int(timeCap),
		TimeReduction: int(timeReduction),
		RowLen:        int(rowLen),
		Extractor:     extractor,
		Rec1:          rec1,
		Rec2:          rec2,
		Classifier:    classifier,
	}, nil
}

// NewNetwork creates a randomly initialized Network.
//
// The extractor halves the time and channel axes twice,
// so numChannels and timeCap must be positive multiples
// of 4.
// The labelCount includes the blank code.
func NewNetwork(c anyvec.Creator, numChannels, timeCap, stateSize,
	labelCount int) (*Network, error) {
	if numChannels <= 0 || numChannels%4 != 0 {
		return nil, fmt.Errorf("new network: channel count %d is not a positive "+
			"multiple of 4", numChannels)
	}
	if timeCap <= 0 || timeCap%4 != 0 {
		return nil, fmt.Errorf("new network: time capacity %d is not a positive "+
			"multiple of 4", timeCap)
	}
	if stateSize <= 0 {
		return nil, fmt.Errorf("new network: state size %d out of range", stateSize)
	}
	if labelCount < 2 {
		return nil, fmt.Errorf("new network: label count %d out of range", labelCount)
	}

	code := fmt.Sprintf(extractorTemplate, numChannels, timeCap)
	outDims, err := markupOutDims(code)
	if err != nil {
		return nil, essentials.AddCtx("new network", err)
	}
	if outDims.Height <= 0 || timeCap%outDims.Height != 0 {
		return nil, fmt.Errorf("new network: time capacity %d does not reduce "+
			"evenly to %d steps", timeCap, outDims.Height)
	}
	layer, err := anyconv.FromMarkup(c, code)
	if err != nil {
		return nil, essentials.AddCtx("new network", err)
	}
	extractor, ok := layer.(anynet.Net)
	if !ok {
		return nil, fmt.Errorf("new network: unexpected extractor type %T", layer)
	}

	rowLen := outDims.Width * outDims.Depth
	return &Network{
		NumChannels:   numChannels,
		TimeCap:       timeCap,
		TimeReduction: timeCap / outDims.Height,
		RowLen:        rowLen,
		Extractor:     extractor,
		Rec1:          anyrnn.NewLSTM(c, rowLen, stateSize),
		Rec2:          anyrnn.NewLSTM(c, stateSize, stateSize),
		Classifier: &anyrnn.LayerBlock{
			Layer: anynet.Net{
				anynet.NewFC(c, stateSize, labelCount),
				anynet.LogSoftmax,
			},
		},
	}, nil
}

// OutputLength returns the number of timesteps the
// network emits for a sample with the given number of
// valid input frames.
func (n *Network) OutputLength(frames int) int {
	if frames < 0 {
		panic(fmt.Sprintf("negative frame count: %d", frames))
	}
	return frames / n.TimeReduction
}

// Apply runs the network over a batch.
//
// The result contains one sequence per sample with
// OutputLength(b.InputLens[i]) timesteps, each a vector
// of log probabilities over the label codes.
//
// Apply fails if the batch's shape does not match the
// network, or if a sample is too short to produce a
// single output timestep.
func (n *Network) Apply(b *seqbatch.Batch) (anyseq.Seq, error) {
	if b.NumChannels != n.NumChannels {
		return nil, fmt.Errorf("apply network: got %d channels but expected %d",
			b.NumChannels, n.NumChannels)
	}
	if b.TimeCap != n.TimeCap {
		return nil, fmt.Errorf("apply network: got time capacity %d but expected %d",
			b.TimeCap, n.TimeCap)
	}
	outLens := make([]int, b.NumSamples)
	for i, l := range b.InputLens {
		outLens[i] = n.OutputLength(l)
		if outLens[i] < 1 {
			return nil, fmt.Errorf("apply network: sample %d: %d frames is too short",
				i, l)
		}
	}

	convOut := n.Extractor.Apply(anydiff.NewConst(b.Features), b.NumSamples)
	stepsCap := n.TimeCap / n.TimeReduction
	if convOut.Output().Len() != b.NumSamples*stepsCap*n.RowLen {
		panic(fmt.Sprintf("extractor emitted %d values but expected %d",
			convOut.Output().Len(), b.NumSamples*stepsCap*n.RowLen))
	}

	seq := newTensorSeq(convOut, stepsCap, n.RowLen, outLens)
	return anyrnn.Map(seq, anyrnn.Stack{n.Rec1, n.Rec2, n.Classifier}), nil
}

// Parameters returns the parameters of every layer in a
// deterministic order.
func (n *Network) Parameters() []*anydiff.Var {
	res := n.Extractor.Parameters()
	for _, b := range []anyrnn.Block{n.Rec1, n.Rec2, n.Classifier} {
		if p, ok := b.(anynet.Parameterizer); ok {
			res = append(res, p.Parameters()...)
		}
	}
	return res
}

// Creator returns the creator of the network's
// parameters.
func (n *Network) Creator() anyvec.Creator {
	return n.Parameters()[0].Vector.Creator()
}

// OutSize returns the number of label codes the network
// scores at each timestep, including the blank.
func (n *Network) OutSize() int {
	net := n.Classifier.Layer.(anynet.Net)
	return net[0].(*anynet.FC).OutCount
}

// SerializerType returns the unique ID used to serialize
// a Network with the serializer package.
func (n *Network) SerializerType() string {
	return "github.com/unixpickle/speechcrnn/crnn.Network"
}

// Serialize serializes the Network.
func (n *Network) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(n.NumChannels),
		serializer.Int(n.TimeCap),
		serializer.Int(n.TimeReduction),
		serializer.Int(n.RowLen),
		n.Extractor,
		n.Rec1,
		n.Rec2,
		n.Classifier,
	)
}

func markupOutDims(code string) (convmarkup.Dims, error) {
	parsed, err := convmarkup.Parse(code)
	if err != nil {
		return convmarkup.Dims{}, fmt.Errorf("parse markup: %s", err)
	}
	block, err := parsed.Block(convmarkup.Dims{}, convmarkup.DefaultCreators())
	if err != nil {
		return convmarkup.Dims{}, fmt.Errorf("make markup block: %s", err)
	}
	root, ok := block.(*convmarkup.Root)
	if !ok {
		return convmarkup.Dims{}, fmt.Errorf("unexpected markup block: %T", block)
	}
	var dims convmarkup.Dims
	for _, child := range root.Children {
		dims = child.OutDims()
	}
	return dims, nil
}
