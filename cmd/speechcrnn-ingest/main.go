// Command speechcrnn-ingest loads transcribed feature
// matrices into a feature store.
//
// It expects a CSV file with "id" and "transcript" columns
// and a directory of msgpack-encoded feature matrices, one
// file per clip, named <id><ext>.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/unixpickle/speechcrnn/featstore"
	"github.com/unixpickle/speechcrnn/vocab"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
)

type labelRow struct {
	ID         string `csv:"id"`
	Transcript string `csv:"transcript"`
}

func main() {
	storeDir := flag.String("store", "", "feature store directory")
	csvPath := flag.String("csv", "", "CSV file with id and transcript columns")
	featureDir := flag.String("features", "", "directory of feature matrix files")
	featureName := flag.String("feature", "melspectrogram", "name under which matrices are stored")
	ext := flag.String("ext", ".msgpack", "feature file extension")
	vocabPath := flag.String("vocab", "", "vocabulary JSON file (default: lower-case English)")
	workers := flag.Int("workers", runtime.GOMAXPROCS(0), "concurrent file readers")
	flag.Parse()

	if *storeDir == "" || *csvPath == "" || *featureDir == "" {
		fmt.Fprintln(os.Stderr,
			"usage: speechcrnn-ingest -store=<dir> -csv=<file> -features=<dir>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if *workers < 1 {
		*workers = 1
	}

	voc := loadVocab(*vocabPath)
	rows := readRows(*csvPath)
	log.Printf("Found %d rows.", len(rows))

	jobs := make(chan *labelRow, len(rows))
	for _, row := range rows {
		jobs <- row
	}
	close(jobs)

	var mu sync.Mutex
	clips := map[string]*featstore.Clip{}
	var badTranscripts, missingFeatures int

	g := errgroup.Group{}
	for i := 0; i < *workers; i++ {
		g.Go(func() error {
			for row := range jobs {
				if _, err := voc.Encode(row.Transcript); err != nil {
					mu.Lock()
					badTranscripts++
					mu.Unlock()
					continue
				}
				path := filepath.Join(*featureDir, row.ID+*ext)
				data, err := os.ReadFile(path)
				if os.IsNotExist(err) {
					mu.Lock()
					missingFeatures++
					mu.Unlock()
					continue
				} else if err != nil {
					return err
				}
				var mat featstore.Matrix
				if err := msgpack.Unmarshal(data, &mat); err != nil {
					return fmt.Errorf("parse %s: %s", path, err)
				}
				if _, err := mat.Floats(); err != nil {
					return fmt.Errorf("parse %s: %s", path, err)
				}
				mu.Lock()
				clips[row.ID] = &featstore.Clip{
					Transcript: row.Transcript,
					Features:   map[string]*featstore.Matrix{*featureName: &mat},
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalln(err)
	}

	st, err := featstore.Open(*storeDir)
	if err != nil {
		log.Fatalln(err)
	}
	defer st.Close()
	if err := st.SetClips(clips); err != nil {
		log.Fatalln(err)
	}
	log.Printf("Ingested %d clips (%d bad transcripts, %d missing features).",
		len(clips), badTranscripts, missingFeatures)
}

func readRows(path string) []*labelRow {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalln(err)
	}
	defer f.Close()
	rows := []*labelRow{}
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		log.Fatalln(err)
	}
	return rows
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
