// Command speechcrnn-transcribe decodes a transcript for a
// stored clip or a standalone feature matrix file.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/unixpickle/speechcrnn/featstore"
	"github.com/unixpickle/speechcrnn/trainer"
	"github.com/vmihailenco/msgpack/v5"
)

func main() {
	ckptPath := flag.String("checkpoint", "checkpoint_crnn", "checkpoint file")
	storeDir := flag.String("store", "", "feature store directory")
	clipID := flag.String("id", "", "clip ID inside the feature store")
	inputPath := flag.String("input", "", "msgpack feature matrix file")
	featureName := flag.String("feature", "melspectrogram", "feature matrix to decode")
	flag.Parse()

	storeMode := *storeDir != "" && *clipID != ""
	if storeMode == (*inputPath != "") {
		fmt.Fprintln(os.Stderr, "usage: speechcrnn-transcribe -checkpoint=<file> "+
			"(-store=<dir> -id=<clip> | -input=<file>)")
		flag.PrintDefaults()
		os.Exit(1)
	}

	ckpt, err := trainer.LoadCheckpoint(*ckptPath)
	if err != nil {
		log.Fatalln(err)
	}

	var features [][]float64
	if *inputPath != "" {
		features = readMatrixFile(*inputPath)
	} else {
		features = readStoredClip(*storeDir, *clipID, *featureName)
	}

	text, err := ckpt.Net.Transcribe(ckpt.Vocab, features)
	if err != nil {
		log.Fatalln(err)
	}
	fmt.Println(text)
}

func readMatrixFile(path string) [][]float64 {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalln(err)
	}
	var mat featstore.Matrix
	if err := msgpack.Unmarshal(data, &mat); err != nil {
		log.Fatalf("parse %s: %s", path, err)
	}
	features, err := mat.Floats()
	if err != nil {
		log.Fatalf("parse %s: %s", path, err)
	}
	return features
}

func readStoredClip(dir, id, feature string) [][]float64 {
	st, err := featstore.Open(dir)
	if err != nil {
		log.Fatalln(err)
	}
	defer st.Close()
	clip, err := st.Clip(id)
	if err != nil {
		log.Fatalln(err)
	}
	mat, ok := clip.Features[feature]
	if !ok {
		log.Fatalf("clip %s has no %q feature", id, feature)
	}
	features, err := mat.Floats()
	if err != nil {
		log.Fatalln(err)
	}
	return features
}
