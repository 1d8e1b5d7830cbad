// Package data reads vocabularies and turns parallel corpus files into
// fixed-shape batches of token indexes.
package data

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Reserved tokens.
const (
	UnknownToken = "<unk>"
	StartToken   = "<s>"
	EndToken     = "</s>"
)

/*
Vocabulary maps tokens to their line number in a vocabulary file.
*/
type Vocabulary struct {
	TokenToIndex map[string]int
	IndexToToken []string
}

/*
ReadVocabulary reads one token per line. Only the first field of a line
is used, so "token count" files work as is. The vocabulary must contain
UnknownToken and EndToken.
*/
func ReadVocabulary(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open vocabulary")
	}
	defer f.Close()

	v := &Vocabulary{TokenToIndex: make(map[string]int)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		tok := fields[0]
		if _, ok := v.TokenToIndex[tok]; ok {
			return nil, errors.Errorf("%s: duplicate token %q", path, tok)
		}
		v.TokenToIndex[tok] = len(v.IndexToToken)
		v.IndexToToken = append(v.IndexToToken, tok)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read vocabulary %s", path)
	}

	for _, tok := range []string{UnknownToken, EndToken} {
		if _, ok := v.TokenToIndex[tok]; !ok {
			return nil, errors.Errorf("%s: missing reserved token %s", path, tok)
		}
	}
	return v, nil
}

// Len is the number of tokens.
func (v *Vocabulary) Len() int {
	return len(v.IndexToToken)
}

// Index returns the index of tok, or the unknown token's index.
func (v *Vocabulary) Index(tok string) int {
	if ix, ok := v.TokenToIndex[tok]; ok {
		return ix
	}
	return v.TokenToIndex[UnknownToken]
}

// EndIndex is the padding index.
func (v *Vocabulary) EndIndex() int {
	return v.TokenToIndex[EndToken]
}

/*
Encode maps a whitespace separated line to exactly maxSize indexes:
an optional StartToken, the tokens, then EndToken padding. Long lines
are truncated.
*/
func (v *Vocabulary) Encode(line string, maxSize int) []int {
	row := make([]int, 0, maxSize)
	if ix, ok := v.TokenToIndex[StartToken]; ok {
		row = append(row, ix)
	}
	for _, tok := range strings.Fields(line) {
		if len(row) == maxSize {
			break
		}
		row = append(row, v.Index(tok))
	}
	if len(row) > maxSize {
		row = row[:maxSize]
	}
	for len(row) < maxSize {
		row = append(row, v.EndIndex())
	}
	return row
}
