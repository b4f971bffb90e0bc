// Package featstore persists precomputed acoustic
// features and transcripts in a Badger database.
//
// Each utterance is stored as a Clip: a transcript plus
// one or more named feature matrices.
// Audio decoding and feature extraction happen upstream;
// the store only ever sees matrices.
package featstore

import (
	"errors"
	"fmt"
	"log"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/unixpickle/essentials"
	"github.com/vmihailenco/msgpack/v5"
)

const clipPrefix = "clip:"

// ErrNotFound is returned when no clip has a requested
// ID.
var ErrNotFound = errors.New("clip not found")

// A Matrix is a dense row-major matrix.
//
// For acoustic features, each row is one feature channel
// and each column is one frame.
type Matrix struct {
	Rows int       `msgpack:"rows"`
	Cols int       `msgpack:"cols"`
	Data []float32 `msgpack:"data"`
}

// Floats expands the matrix into channel-major rows.
//
// It fails if the dimensions are not positive or do not
// match the number of stored values.
func (m *Matrix) Floats() ([][]float64, error) {
	if m.Rows <= 0 || m.Cols <= 0 || len(m.Data) != m.Rows*m.Cols {
		return nil, fmt.Errorf("matrix has %d values but claims %dx%d",
			len(m.Data), m.Rows, m.Cols)
	}
	res := make([][]float64, m.Rows)
	for i := range res {
		row := make([]float64, m.Cols)
		for j := range row {
			row[j] = float64(m.Data[i*m.Cols+j])
		}
		res[i] = row
	}
	return res, nil
}

// A Clip is one stored utterance.
type Clip struct {
	Transcript string             `msgpack:"transcript"`
	Features   map[string]*Matrix `msgpack:"features"`
}

// A Store is a clip database.
type Store struct {
	db *badger.DB
}

// Open opens the store in a directory, creating it if it
// does not exist.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(quietLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, essentials.AddCtx("open feature store", err)
	}
	return &Store{db: db}, nil
}

// OpenMemory opens a store that lives in memory, which is
// useful for tests.
func OpenMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(quietLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, essentials.AddCtx("open feature store", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClip stores a clip under an ID, replacing any
// previous clip with the same ID.
func (s *Store) SetClip(id string, clip *Clip) error {
	data, err := msgpack.Marshal(clip)
	if err != nil {
		return essentials.AddCtx("set clip", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(clipPrefix+id), data)
	})
	if err != nil {
		return essentials.AddCtx("set clip", err)
	}
	return nil
}

// SetClips stores many clips in a single write batch.
func (s *Store) SetClips(clips map[string]*Clip) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for id, clip := range clips {
		data, err := msgpack.Marshal(clip)
		if err != nil {
			return essentials.AddCtx("set clips", err)
		}
		if err := wb.Set([]byte(clipPrefix+id), data); err != nil {
			return essentials.AddCtx("set clips", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return essentials.AddCtx("set clips", err)
	}
	return nil
}

// Clip fetches a clip by ID.
// It returns ErrNotFound if the ID is unused.
func (s *Store) Clip(id string) (*Clip, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(clipPrefix + id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, essentials.AddCtx("get clip", err)
	}
	var clip Clip
	if err := msgpack.Unmarshal(data, &clip); err != nil {
		return nil, essentials.AddCtx("get clip", err)
	}
	return &clip, nil
}

// IDs lists every stored clip ID in key order, which is
// stable across runs.
func (s *Store) IDs() ([]string, error) {
	var res []string
	prefix := []byte(clipPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			res = append(res, strings.TrimPrefix(string(key), clipPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, essentials.AddCtx("list clips", err)
	}
	return res, nil
}

// quietLogger silences badger's info and debug output.
type quietLogger struct{}

func (quietLogger) Errorf(f string, v ...interface{})   { log.Printf("badger error: "+f, v...) }
func (quietLogger) Warningf(f string, v ...interface{}) { log.Printf("badger warning: "+f, v...) }
func (quietLogger) Infof(string, ...interface{})        {}
func (quietLogger) Debugf(string, ...interface{})       {}
