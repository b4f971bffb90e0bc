package featstore

import (
	"crypto/md5"
	"fmt"

	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/speechcrnn/seqbatch"
	"github.com/unixpickle/speechcrnn/vocab"
)

// A SampleList exposes the clips of a Store as training
// samples.
//
// It implements anysgd.SampleList and anysgd.Hasher, so
// it can be shuffled, sliced, and split deterministically.
type SampleList struct {
	store   *Store
	vocab   *vocab.Vocab
	feature string
	ids     []string
}

// Samples creates a SampleList over every clip in the
// store, in ID order.
//
// The feature argument names the feature matrix that each
// clip must carry.
func (s *Store) Samples(v *vocab.Vocab, feature string) (*SampleList, error) {
	ids, err := s.IDs()
	if err != nil {
		return nil, err
	}
	return &SampleList{store: s, vocab: v, feature: feature, ids: ids}, nil
}

// Len returns the number of samples.
func (s *SampleList) Len() int {
	return len(s.ids)
}

// Swap swaps two samples.
func (s *SampleList) Swap(i, j int) {
	s.ids[i], s.ids[j] = s.ids[j], s.ids[i]
}

// Slice copies a sub-range of the list.
func (s *SampleList) Slice(i, j int) anysgd.SampleList {
	return &SampleList{
		store:   s.store,
		vocab:   s.vocab,
		feature: s.feature,
		ids:     append([]string{}, s.ids[i:j]...),
	}
}

// Hash hashes the clip ID at index i, so that splits
// derived from the hash do not depend on list order.
func (s *SampleList) Hash(i int) []byte {
	sum := md5.Sum([]byte(s.ids[i]))
	return sum[:]
}

// ID returns the clip ID at index i.
func (s *SampleList) ID(i int) string {
	return s.ids[i]
}

// GetSample loads and validates the clip at index i.
//
// It fails if the clip is missing, lacks the configured
// feature matrix, has a malformed matrix, or has a
// transcript with symbols outside the vocabulary.
func (s *SampleList) GetSample(i int) (*seqbatch.Sample, error) {
	id := s.ids[i]
	clip, err := s.store.Clip(id)
	if err != nil {
		return nil, essentials.AddCtx("sample "+id, err)
	}
	mat, ok := clip.Features[s.feature]
	if !ok {
		return nil, fmt.Errorf("sample %s: no %q feature", id, s.feature)
	}
	feats, err := mat.Floats()
	if err != nil {
		return nil, essentials.AddCtx("sample "+id, err)
	}
	if clip.Transcript == "" {
		return nil, fmt.Errorf("sample %s: empty transcript", id)
	}
	label, err := s.vocab.Encode(clip.Transcript)
	if err != nil {
		return nil, essentials.AddCtx("sample "+id, err)
	}
	return &seqbatch.Sample{Features: feats, Label: label}, nil
}
