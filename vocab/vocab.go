// Package vocab maintains the bijection between
// transcript symbols and the integer codes used at the
// network's output layer.
//
// Code 0 is reserved for the CTC blank symbol and never
// corresponds to a transcript symbol.
package vocab

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var v Vocab
	serializer.RegisterTypedDeserializer(v.SerializerType(), DeserializeVocab)
}

// Blank is the integer code of the CTC blank symbol.
const Blank = 0

// A Vocab is an immutable bijection between transcript
// symbols and positive integer codes.
type Vocab struct {
	symbols []rune
	codes   map[rune]int
}

// New creates a Vocab from an ordered list of symbols.
// The symbol at index i is assigned the code i+1, since
// code 0 belongs to the blank.
//
// It fails if the list is empty or contains a duplicate.
func New(symbols []rune) (*Vocab, error) {
	if len(symbols) == 0 {
		return nil, errors.New("new vocabulary: no symbols")
	}
	codes := map[rune]int{}
	for i, r := range symbols {
		if _, ok := codes[r]; ok {
			return nil, fmt.Errorf("new vocabulary: duplicate symbol %q", r)
		}
		codes[r] = i + 1
	}
	return &Vocab{
		symbols: append([]rune{}, symbols...),
		codes:   codes,
	}, nil
}

// Default returns the vocabulary for lower-case English
// transcripts: a space followed by the letters 'a'
// through 'z'.
func Default() *Vocab {
	symbols := []rune{' '}
	for r := 'a'; r <= 'z'; r++ {
		symbols = append(symbols, r)
	}
	res, err := New(symbols)
	if err != nil {
		panic(err)
	}
	return res
}

// DeserializeVocab deserializes a Vocab.
func DeserializeVocab(d []byte) (*Vocab, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Vocab", err)
	}
	symbols := make([]rune, len(slice))
	for i, x := range slice {
		num, ok := x.(serializer.Int)
		if !ok {
			return nil, fmt.Errorf("deserialize Vocab: unexpected type %T", x)
		}
		symbols[i] = rune(num)
	}
	res, err := New(symbols)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Vocab", err)
	}
	return res, nil
}

// LoadFile reads a vocabulary from a JSON file written by
// SaveFile.
func LoadFile(path string) (*Vocab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, essentials.AddCtx("load vocabulary", err)
	}
	var obj jsonVocab
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, essentials.AddCtx("load vocabulary", err)
	}
	res, err := New([]rune(obj.Symbols))
	if err != nil {
		return nil, essentials.AddCtx("load vocabulary", err)
	}
	return res, nil
}

// SaveFile writes the vocabulary to a JSON file.
// The file stores the non-blank symbols in code order, so
// the inverse mapping can be rebuilt from it.
func (v *Vocab) SaveFile(path string) error {
	data, err := json.Marshal(&jsonVocab{Symbols: string(v.symbols)})
	if err != nil {
		return essentials.AddCtx("save vocabulary", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return essentials.AddCtx("save vocabulary", err)
	}
	return nil
}

// Size returns the number of codes, including the blank.
func (v *Vocab) Size() int {
	return len(v.symbols) + 1
}

// Encode maps a transcript to a sequence of codes.
// The result never contains the blank code.
//
// It fails if the transcript contains a symbol outside
// the vocabulary.
func (v *Vocab) Encode(text string) ([]int, error) {
	res := make([]int, 0, len(text))
	for _, r := range text {
		code, ok := v.codes[r]
		if !ok {
			return nil, fmt.Errorf("encode transcript: unknown symbol %q", r)
		}
		res = append(res, code)
	}
	return res, nil
}

// Decode maps a sequence of codes back to a transcript.
//
// Like Symbol, it panics on codes with no symbol.
func (v *Vocab) Decode(codes []int) string {
	res := make([]rune, len(codes))
	for i, c := range codes {
		res[i] = v.Symbol(c)
	}
	return string(res)
}

// Symbol returns the symbol for a non-blank code.
// It panics if the code is the blank or out of range,
// since label sequences reaching this point should never
// contain either.
func (v *Vocab) Symbol(code int) rune {
	if code <= Blank || code > len(v.symbols) {
		panic(fmt.Sprintf("no symbol for code %d", code))
	}
	return v.symbols[code-1]
}

// SerializerType returns the unique ID used to serialize
// a Vocab with the serializer package.
func (v *Vocab) SerializerType() string {
	return "github.com/unixpickle/speechcrnn/vocab.Vocab"
}

// Serialize serializes the Vocab.
func (v *Vocab) Serialize() ([]byte, error) {
	objs := make([]serializer.Serializer, len(v.symbols))
	for i, r := range v.symbols {
		objs[i] = serializer.Int(r)
	}
	return serializer.SerializeSlice(objs)
}

type jsonVocab struct {
	Symbols string `json:"symbols"`
}
