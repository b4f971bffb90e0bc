// Command speechcrnn-train trains a transcription network
// on the clips in a feature store.
//
// A fresh run creates a network sized from the data and
// the flags. If the checkpoint file already exists, the
// run resumes from it and the network flags are ignored.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/rip"
	"github.com/unixpickle/speechcrnn/crnn"
	"github.com/unixpickle/speechcrnn/featstore"
	"github.com/unixpickle/speechcrnn/trainer"
	"github.com/unixpickle/speechcrnn/vocab"
)

func main() {
	var (
		storeDir    = flag.String("store", "", "feature store directory")
		featureName = flag.String("feature", "melspectrogram", "feature matrix to train on")
		vocabPath   = flag.String("vocab", "", "vocabulary JSON file (default: lower-case English)")
		ckptPath    = flag.String("checkpoint", "checkpoint_crnn", "checkpoint file")
		metricsPath = flag.String("metrics", "", "append per-epoch JSON metrics to this file")
		stateSize   = flag.Int("statesize", 128, "LSTM state size")
		timeCap     = flag.Int("timecap", 512, "maximum input frames per sample")
		batchSize   = flag.Int("batch", 16, "mini-batch size")
		numEpochs   = flag.Int("epochs", 10, "total number of epochs")
		stepSize    = flag.Float64("step", 0.001, "learning rate")
		seed        = flag.Int64("seed", 1, "shuffle seed")
		valRatio    = flag.Float64("validation", 0.1, "fraction of clips held out for validation")
	)
	flag.Parse()
	if *storeDir == "" {
		fmt.Fprintln(os.Stderr, "usage: speechcrnn-train -store=<dir> [flags]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	log.Println("Setting up...")

	var voc *vocab.Vocab
	var net *crnn.Network
	var opt *trainer.Adam
	var startEpoch int

	resume := fileExists(*ckptPath)
	if resume {
		ckpt, err := trainer.LoadCheckpoint(*ckptPath)
		if err != nil {
			log.Fatalln(err)
		}
		voc, net, opt, startEpoch = ckpt.Vocab, ckpt.Net, ckpt.Opt, ckpt.Epoch
		log.Printf("Resuming at epoch %d...", startEpoch)
	} else {
		voc = loadVocab(*vocabPath)
	}

	st, err := featstore.Open(*storeDir)
	if err != nil {
		log.Fatalln(err)
	}
	defer st.Close()

	samples, err := st.Samples(voc, *featureName)
	if err != nil {
		log.Fatalln(err)
	}
	if samples.Len() == 0 {
		log.Fatalln("no clips in feature store")
	}
	log.Printf("Found %d clips.", samples.Len())

	training, validation := splitSamples(samples, *valRatio)
	if training.Len() == 0 {
		log.Fatalln("no training clips after the validation split")
	}

	if !resume {
		first, err := training.GetSample(0)
		if err != nil {
			log.Fatalln(err)
		}
		net, err = crnn.NewNetwork(anyvec32.CurrentCreator(), len(first.Features),
			*timeCap, *stateSize, voc.Size())
		if err != nil {
			log.Fatalln(err)
		}
		opt = &trainer.Adam{Params: net.Parameters()}
		log.Printf("Created network for %d channels.", net.NumChannels)
	}

	tr := &trainer.Trainer{
		Net:     net,
		Params:  net.Parameters(),
		Average: true,
	}
	loop := &trainer.Loop{
		Trainer:        tr,
		Opt:            opt,
		Rater:          anysgd.ConstRater(*stepSize),
		Training:       training,
		Validation:     validation,
		BatchSize:      *batchSize,
		Seed:           *seed,
		StartEpoch:     startEpoch,
		NumEpochs:      *numEpochs,
		Vocab:          voc,
		CheckpointPath: *ckptPath,
		MetricsPath:    *metricsPath,
		Stop:           rip.NewRIP().Chan(),
	}

	log.Println("Press ctrl+c once to stop...")
	if err := loop.Run(); err != nil {
		log.Fatalln(err)
	}
	log.Println("Done.")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func loadVocab(path string) *vocab.Vocab {
	if path == "" {
		return vocab.Default()
	}
	voc, err := vocab.LoadFile(path)
	if err != nil {
		log.Fatalln(err)
	}
	return voc
}

func splitSamples(samples *featstore.SampleList, valRatio float64) (training,
	validation trainer.SampleList) {
	if valRatio <= 0 {
		return samples, nil
	}
	left, right := anysgd.HashSplit(samples, 1-valRatio)
	return left.(trainer.SampleList), right.(trainer.SampleList)
}
