// Package textmetrics computes edit-distance error rates
// between reference and predicted transcripts.
package textmetrics

import (
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// CER computes the character error rate: the edit
// distance between the two transcripts divided by the
// length of the reference, with empty references counted
// as length one.
func CER(ref, pred string) float64 {
	refRunes := []rune(ref)
	dist := levenshtein.DistanceForStrings(refRunes, []rune(pred),
		levenshtein.DefaultOptions)
	return float64(dist) / float64(max(len(refRunes), 1))
}

// WER computes the word error rate: the edit distance
// between the whitespace-delimited word sequences of the
// two transcripts divided by the reference's word count,
// with empty references counted as one word.
func WER(ref, pred string) float64 {
	refWords := strings.Fields(ref)
	predWords := strings.Fields(pred)
	refSyms, predSyms := wordRunes(refWords, predWords)
	dist := levenshtein.DistanceForStrings(refSyms, predSyms,
		levenshtein.DefaultOptions)
	return float64(dist) / float64(max(len(refWords), 1))
}

// wordRunes maps every distinct word to a placeholder
// rune so that word sequences can be compared with the
// same edit distance used for characters.
func wordRunes(a, b []string) ([]rune, []rune) {
	ids := map[string]rune{}
	mapWords := func(words []string) []rune {
		res := make([]rune, len(words))
		for i, w := range words {
			id, ok := ids[w]
			if !ok {
				id = rune(len(ids) + 1)
				ids[w] = id
			}
			res[i] = id
		}
		return res
	}
	return mapWords(a), mapWords(b)
}
