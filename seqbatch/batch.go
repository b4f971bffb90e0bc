// Package seqbatch packs variable-length feature
// sequences and their labels into the fixed-shape tensors
// consumed by a convolutional front end.
//
// Packed feature tensors are frame-major: sample i
// occupies rows [i*TimeCap, (i+1)*TimeCap), and row t
// holds the channel values of frame t.
// Rows past a sample's recorded length are zero.
package seqbatch

import (
	"fmt"

	"github.com/unixpickle/anyvec"
)

// A Sample is one labeled utterance.
//
// Features is channel-major: Features[j][t] is the value
// of channel j at frame t.
// Label holds vocabulary codes, which are never 0.
type Sample struct {
	Features [][]float64
	Label    []int
}

// A Batch is a fixed-shape packing of several samples.
//
// True sequence lengths always travel with the padded
// tensors: InputLens[i] is the number of valid frames of
// sample i, and LabelLens[i] its number of valid label
// codes.
type Batch struct {
	// Features stores NumSamples * TimeCap rows of
	// NumChannels values each.
	Features anyvec.Vector

	// Labels stores NumSamples runs of LabelCap codes,
	// padded with 0.
	Labels []int

	InputLens []int
	LabelLens []int

	NumSamples  int
	NumChannels int
	TimeCap     int
	LabelCap    int
}

// Assemble packs samples into a batch.
//
// If timeCap is 0, the time capacity is the length of the
// longest sample in the batch.
// If timeCap is positive, longer samples are truncated to
// timeCap frames and their recorded length becomes
// timeCap.
// Truncation discards audio, so a fixed capacity should
// be chosen to cover the training data.
//
// Assemble fails if there are no samples, if any sample
// has no frames, an empty label, a ragged feature matrix,
// or a channel count different from the rest of the
// batch, or if any label code is less than 1.
func Assemble(c anyvec.Creator, samples []*Sample, timeCap int) (*Batch, error) {
	feats := make([][][]float64, len(samples))
	for i, s := range samples {
		feats[i] = s.Features
	}
	data, inputLens, channels, capacity, err := packFeatures(feats, timeCap)
	if err != nil {
		return nil, err
	}

	var labelCap int
	for i, s := range samples {
		if len(s.Label) == 0 {
			return nil, fmt.Errorf("assemble batch: sample %d: empty label", i)
		}
		for _, code := range s.Label {
			if code < 1 {
				return nil, fmt.Errorf("assemble batch: sample %d: label code %d out of range",
					i, code)
			}
		}
		if len(s.Label) > labelCap {
			labelCap = len(s.Label)
		}
	}
	labels := make([]int, len(samples)*labelCap)
	labelLens := make([]int, len(samples))
	for i, s := range samples {
		copy(labels[i*labelCap:], s.Label)
		labelLens[i] = len(s.Label)
	}

	return &Batch{
		Features:    c.MakeVectorData(c.MakeNumericList(data)),
		Labels:      labels,
		InputLens:   inputLens,
		LabelLens:   labelLens,
		NumSamples:  len(samples),
		NumChannels: channels,
		TimeCap:     capacity,
		LabelCap:    labelCap,
	}, nil
}

// PackFeatures packs feature matrices the way Assemble
// does, without labels.
//
// It returns the packed tensor and the recorded length of
// every sample.
func PackFeatures(c anyvec.Creator, feats [][][]float64, timeCap int) (anyvec.Vector,
	[]int, error) {
	data, lens, _, _, err := packFeatures(feats, timeCap)
	if err != nil {
		return nil, nil, err
	}
	return c.MakeVectorData(c.MakeNumericList(data)), lens, nil
}

func packFeatures(feats [][][]float64, timeCap int) (data []float64, lens []int,
	channels, capacity int, err error) {
	if len(feats) == 0 {
		return nil, nil, 0, 0, fmt.Errorf("pack features: no samples")
	}
	if timeCap < 0 {
		return nil, nil, 0, 0, fmt.Errorf("pack features: negative time cap %d", timeCap)
	}
	channels = len(feats[0])
	lens = make([]int, len(feats))
	for i, mat := range feats {
		if len(mat) == 0 {
			return nil, nil, 0, 0, fmt.Errorf("pack features: sample %d: no channels", i)
		}
		if len(mat) != channels {
			return nil, nil, 0, 0, fmt.Errorf("pack features: sample %d: got %d channels "+
				"but expected %d", i, len(mat), channels)
		}
		frames := len(mat[0])
		for j, row := range mat {
			if len(row) != frames {
				return nil, nil, 0, 0, fmt.Errorf("pack features: sample %d: channel %d "+
					"has %d frames but channel 0 has %d", i, j, len(row), frames)
			}
		}
		if frames == 0 {
			return nil, nil, 0, 0, fmt.Errorf("pack features: sample %d: no frames", i)
		}
		lens[i] = frames
	}

	capacity = timeCap
	if capacity == 0 {
		for _, l := range lens {
			if l > capacity {
				capacity = l
			}
		}
	} else {
		for i, l := range lens {
			if l > capacity {
				lens[i] = capacity
			}
		}
	}

	data = make([]float64, len(feats)*capacity*channels)
	for i, mat := range feats {
		base := i * capacity * channels
		for t := 0; t < lens[i]; t++ {
			for j, row := range mat {
				data[base+t*channels+j] = row[t]
			}
		}
	}
	return data, lens, channels, capacity, nil
}

// Label returns the valid label codes of sample i.
// The result aliases the batch's label buffer.
func (b *Batch) Label(i int) []int {
	return b.Labels[i*b.LabelCap : i*b.LabelCap+b.LabelLens[i]]
}

// LabelSeqs returns the labels of every sample.
func (b *Batch) LabelSeqs() [][]int {
	res := make([][]int, b.NumSamples)
	for i := range res {
		res[i] = b.Label(i)
	}
	return res
}

// Check verifies that the batch's dimensions, lengths,
// and padded tensors are mutually consistent.
func (b *Batch) Check() error {
	if len(b.InputLens) != b.NumSamples || len(b.LabelLens) != b.NumSamples {
		return fmt.Errorf("check batch: %d samples but %d input lengths and "+
			"%d label lengths", b.NumSamples, len(b.InputLens), len(b.LabelLens))
	}
	if b.Features.Len() != b.NumSamples*b.TimeCap*b.NumChannels {
		return fmt.Errorf("check batch: feature tensor has %d values but expected %d",
			b.Features.Len(), b.NumSamples*b.TimeCap*b.NumChannels)
	}
	if len(b.Labels) != b.NumSamples*b.LabelCap {
		return fmt.Errorf("check batch: label tensor has %d codes but expected %d",
			len(b.Labels), b.NumSamples*b.LabelCap)
	}
	for i, l := range b.InputLens {
		if l < 1 || l > b.TimeCap {
			return fmt.Errorf("check batch: sample %d: input length %d out of range", i, l)
		}
	}
	for i, l := range b.LabelLens {
		if l < 1 || l > b.LabelCap {
			return fmt.Errorf("check batch: sample %d: label length %d out of range", i, l)
		}
	}
	for i := 0; i < b.NumSamples; i++ {
		row := b.Labels[i*b.LabelCap : (i+1)*b.LabelCap]
		for j, code := range row {
			if j < b.LabelLens[i] {
				if code < 1 {
					return fmt.Errorf("check batch: sample %d: label code %d out of range",
						i, code)
				}
			} else if code != 0 {
				return fmt.Errorf("check batch: sample %d: label padding is %d, not 0",
					i, code)
			}
		}
	}
	return nil
}
