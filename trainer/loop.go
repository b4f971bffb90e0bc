package trainer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"

	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/speechcrnn/ctc"
	"github.com/unixpickle/speechcrnn/textmetrics"
	"github.com/unixpickle/speechcrnn/vocab"
)

// EpochStats records the metrics from one epoch.
type EpochStats struct {
	Epoch     int     `json:"epoch"`
	Cost      float64 `json:"cost"`
	ValCost   float64 `json:"val_cost"`
	CER       float64 `json:"cer"`
	WER       float64 `json:"wer"`
	Dropped   int     `json:"dropped"`
	NonFinite int     `json:"non_finite"`
}

// A Loop runs epochs of mini-batch SGD, with optional
// validation, metrics logging, and checkpointing after
// every completed epoch.
type Loop struct {
	Trainer *Trainer

	// Opt, if non-nil, transforms gradients before they
	// are applied.
	Opt *Adam

	// Rater determines the learning rate for each epoch.
	// If nil, a constant rate of 0.001 is used.
	Rater anysgd.Rater

	Training   SampleList
	Validation SampleList

	// BatchSize is the number of samples per mini-batch.
	// If it is 0, the entire training list is one batch.
	BatchSize int

	// Seed determines the shuffle order.
	// Runs with the same seed, data, and epoch range visit
	// the samples in the same order.
	Seed int64

	// StartEpoch is the index of the first epoch to run,
	// which is 0 for a fresh run and the completed epoch
	// count when resuming from a checkpoint.
	StartEpoch int

	// NumEpochs is the total number of epochs, counting
	// the ones completed before StartEpoch.
	NumEpochs int

	// Vocab decodes labels for validation metrics and is
	// stored in checkpoints.
	Vocab *vocab.Vocab

	// CheckpointPath, if non-empty, is where a checkpoint
	// is saved after every completed epoch.
	CheckpointPath string

	// MetricsPath, if non-empty, is a file to which one
	// JSON line of metrics is appended per epoch.
	MetricsPath string

	// Stop, if non-nil, makes Run return early once a
	// value arrives or the channel is closed.
	// Stopping mid-epoch discards that epoch's progress
	// reporting and does not save a checkpoint.
	Stop <-chan struct{}
}

// Run trains until NumEpochs is reached, the Stop channel
// fires, or an error occurs.
func (l *Loop) Run() error {
	if l.Training == nil || l.Training.Len() == 0 {
		return errors.New("run training loop: no training samples")
	}
	batchSize := l.BatchSize
	if batchSize <= 0 {
		batchSize = l.Training.Len()
	}
	rater := l.Rater
	if rater == nil {
		rater = anysgd.ConstRater(0.001)
	}
	for epoch := l.StartEpoch; epoch < l.NumEpochs; epoch++ {
		stats, err := l.runEpoch(epoch, batchSize, rater)
		if err != nil {
			return err
		}
		if stats == nil {
			return nil
		}
		if l.Validation != nil && l.Validation.Len() > 0 {
			valCost, cer, wer, err := l.validate(batchSize)
			if err != nil {
				return err
			}
			stats.ValCost = valCost
			stats.CER = cer
			stats.WER = wer
		}
		log.Printf("epoch %d: cost=%f val_cost=%f cer=%f wer=%f dropped=%d "+
			"nonfinite=%d", epoch, stats.Cost, stats.ValCost, stats.CER,
			stats.WER, stats.Dropped, stats.NonFinite)
		if l.MetricsPath != "" {
			if err := appendMetrics(l.MetricsPath, stats); err != nil {
				return err
			}
		}
		if l.CheckpointPath != "" {
			ckpt := &Checkpoint{
				Epoch: epoch + 1,
				Vocab: l.Vocab,
				Net:   l.Trainer.Net,
				Opt:   l.Opt,
			}
			if err := ckpt.Save(l.CheckpointPath); err != nil {
				return err
			}
		}
	}
	return nil
}

type fetchResult struct {
	Batch anysgd.Batch
	Err   error
}

// runEpoch shuffles the training data and runs one pass of
// mini-batch SGD over it, fetching the next batch while
// the current one trains.
//
// It returns nil stats if the loop was stopped mid-epoch.
func (l *Loop) runEpoch(epoch, batchSize int, rater anysgd.Rater) (*EpochStats, error) {
	gen := rand.New(rand.NewSource(l.Seed + int64(epoch)))
	shuffle(gen, l.Training)

	done := make(chan struct{})
	defer close(done)
	results := make(chan *fetchResult, 1)
	go func() {
		defer close(results)
		for i := 0; i < l.Training.Len(); i += batchSize {
			end := i + batchSize
			if end > l.Training.Len() {
				end = l.Training.Len()
			}
			batch, err := l.Trainer.Fetch(l.Training.Slice(i, end))
			select {
			case results <- &fetchResult{Batch: batch, Err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	stats := &EpochStats{Epoch: epoch}
	var batches int
	for res := range results {
		if l.stopped() {
			return nil, nil
		}
		if res.Err != nil {
			return nil, res.Err
		}
		b := res.Batch.(*Batch)
		grad := l.Trainer.Gradient(b)
		stats.Cost += numericFloat(l.Trainer.LastCost)
		stats.Dropped += b.NumDropped
		stats.NonFinite += l.Trainer.LastNonFinite
		batches++
		if l.Opt != nil {
			grad = l.Opt.Transform(grad)
		}
		scaleGrad(grad, -rater.Rate(float64(epoch)))
		grad.AddToVars()
	}
	if batches > 0 {
		stats.Cost /= float64(batches)
	}
	return stats, nil
}

// validate runs the validation set through the current
// network once, averaging the finite per-sample costs and
// the decoded per-sample error rates.
//
// Chunks where every sample was dropped are skipped rather
// than treated as errors.
func (l *Loop) validate(batchSize int) (cost, cer, wer float64, err error) {
	var costSum, cerSum, werSum float64
	var costCount, count int
	for i := 0; i < l.Validation.Len(); i += batchSize {
		end := i + batchSize
		if end > l.Validation.Len() {
			end = l.Validation.Len()
		}
		fetched, err := l.Trainer.Fetch(l.Validation.Slice(i, end))
		if errors.Is(err, ErrAllDropped) {
			continue
		} else if err != nil {
			return 0, 0, 0, essentials.AddCtx("validate", err)
		}
		b := fetched.(*Batch).Batch
		outSeq, err := l.Trainer.Net.Apply(b)
		if err != nil {
			return 0, 0, 0, essentials.AddCtx("validate", err)
		}
		costs := ctc.Cost(outSeq, b.LabelSeqs())
		for _, x := range vectorFloats(costs.Output()) {
			if !math.IsInf(x, 0) && !math.IsNaN(x) {
				costSum += x
				costCount++
			}
		}
		for j, codes := range ctc.BestPaths(outSeq) {
			ref := l.Vocab.Decode(b.Label(j))
			hyp := l.Vocab.Decode(codes)
			cerSum += textmetrics.CER(ref, hyp)
			werSum += textmetrics.WER(ref, hyp)
			count++
		}
	}
	if costCount > 0 {
		cost = costSum / float64(costCount)
	}
	if count > 0 {
		cer = cerSum / float64(count)
		wer = werSum / float64(count)
	}
	return cost, cer, wer, nil
}

func (l *Loop) stopped() bool {
	if l.Stop == nil {
		return false
	}
	select {
	case <-l.Stop:
		return true
	default:
		return false
	}
}

// shuffle is like anysgd.Shuffle, but it draws from a
// seeded source so that epochs are reproducible.
func shuffle(gen *rand.Rand, s anysgd.SampleList) {
	for i := 0; i < s.Len(); i++ {
		j := i + gen.Intn(s.Len()-i)
		s.Swap(i, j)
	}
	if p, ok := s.(anysgd.PostShuffler); ok {
		p.PostShuffle()
	}
}

func appendMetrics(path string, stats *EpochStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return essentials.AddCtx("append metrics", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return essentials.AddCtx("append metrics", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return essentials.AddCtx("append metrics", err)
	}
	if err := f.Close(); err != nil {
		return essentials.AddCtx("append metrics", err)
	}
	return nil
}

func numericFloat(n anyvec.Numeric) float64 {
	switch n := n.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		panic(fmt.Sprintf("unsupported numeric type: %T", n))
	}
}
