package data

import (
	"bufio"
	"os"

	"github.com/pkg/errors"
)

/*
Batches is one pass over a corpus. Call Next before every Batch.
*/
type Batches interface {
	Next() bool
	Batch() (source [][]int, target [][]int)
	Err() error
	Close() error
}

/*
Source hands out a fresh pass over the same corpus for every epoch.
*/
type Source interface {
	// Len is the number of batches in one pass.
	Len() (int, error)
	Open() (Batches, error)
}

/*
Corpus reads a source and a target file line by line, in lockstep. A
trailing partial batch is completed with the first lines of the corpus,
so every batch is [BatchSize][MaxSize].
*/
type Corpus struct {
	SourcePath  string
	TargetPath  string
	SourceVocab *Vocabulary
	TargetVocab *Vocabulary
	MaxSize     int
	BatchSize   int
}

/*
Len counts the lines of the source file and rounds up to whole batches.
*/
func (c *Corpus) Len() (int, error) {
	lines, err := countLines(c.SourcePath)
	if err != nil {
		return 0, err
	}
	return (lines + c.BatchSize - 1) / c.BatchSize, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open corpus")
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	return n, errors.Wrapf(scanner.Err(), "read corpus %s", path)
}

/*
Open starts a new pass.
*/
func (c *Corpus) Open() (Batches, error) {
	if c.BatchSize < 1 || c.MaxSize < 1 {
		return nil, errors.Errorf("corpus batch size %d and max size %d must be positive", c.BatchSize, c.MaxSize)
	}
	src, err := os.Open(c.SourcePath)
	if err != nil {
		return nil, errors.Wrap(err, "open source corpus")
	}
	tgt, err := os.Open(c.TargetPath)
	if err != nil {
		src.Close()
		return nil, errors.Wrap(err, "open target corpus")
	}
	return &fileBatches{
		corpus:  c,
		srcFile: src,
		tgtFile: tgt,
		src:     bufio.NewScanner(src),
		tgt:     bufio.NewScanner(tgt),
	}, nil
}

type fileBatches struct {
	corpus           *Corpus
	srcFile, tgtFile *os.File
	src, tgt         *bufio.Scanner

	// the first rows of the corpus, used to fill the last batch
	headSource, headTarget [][]int

	source, target [][]int
	done           bool
	err            error
}

func (b *fileBatches) Next() bool {
	if b.done {
		return false
	}
	c := b.corpus
	b.source = make([][]int, 0, c.BatchSize)
	b.target = make([][]int, 0, c.BatchSize)

	for len(b.source) < c.BatchSize {
		hasSource, hasTarget := b.src.Scan(), b.tgt.Scan()
		if hasSource != hasTarget {
			b.err = errors.Errorf("%s and %s have different line counts", c.SourcePath, c.TargetPath)
			return b.stop()
		}
		if !hasSource {
			break
		}
		s := c.SourceVocab.Encode(b.src.Text(), c.MaxSize)
		t := c.TargetVocab.Encode(b.tgt.Text(), c.MaxSize)
		if len(b.headSource) < c.BatchSize {
			b.headSource = append(b.headSource, s)
			b.headTarget = append(b.headTarget, t)
		}
		b.source = append(b.source, s)
		b.target = append(b.target, t)
	}
	if err := b.src.Err(); err != nil {
		b.err = errors.Wrap(err, "read source corpus")
		return b.stop()
	}
	if err := b.tgt.Err(); err != nil {
		b.err = errors.Wrap(err, "read target corpus")
		return b.stop()
	}

	if len(b.source) == 0 {
		return b.stop()
	}
	if len(b.source) < c.BatchSize {
		// last batch, wrap around to the head
		for i := 0; len(b.source) < c.BatchSize; i++ {
			b.source = append(b.source, b.headSource[i%len(b.headSource)])
			b.target = append(b.target, b.headTarget[i%len(b.headTarget)])
		}
		b.done = true
	}
	return true
}

func (b *fileBatches) stop() bool {
	b.done = true
	b.source, b.target = nil, nil
	return false
}

func (b *fileBatches) Batch() ([][]int, [][]int) {
	return b.source, b.target
}

func (b *fileBatches) Err() error {
	return b.err
}

func (b *fileBatches) Close() error {
	errSource := b.srcFile.Close()
	errTarget := b.tgtFile.Close()
	if errSource != nil {
		return errSource
	}
	return errTarget
}

/*
MemorySource serves already encoded rows, BatchSize at a time. A trailing
partial batch wraps to the first rows the same way Corpus does.
*/
type MemorySource struct {
	Source    [][]int
	Target    [][]int
	BatchSize int
}

func (m *MemorySource) Len() (int, error) {
	if len(m.Source) != len(m.Target) {
		return 0, errors.Errorf("source has %d rows, target %d", len(m.Source), len(m.Target))
	}
	return (len(m.Source) + m.BatchSize - 1) / m.BatchSize, nil
}

func (m *MemorySource) Open() (Batches, error) {
	n, err := m.Len()
	if err != nil {
		return nil, err
	}
	return &memoryBatches{src: m, total: n, cursor: -1}, nil
}

type memoryBatches struct {
	src    *MemorySource
	total  int
	cursor int
}

func (b *memoryBatches) Next() bool {
	b.cursor++
	return b.cursor < b.total
}

func (b *memoryBatches) Batch() ([][]int, [][]int) {
	bs := b.src.BatchSize
	source := make([][]int, bs)
	target := make([][]int, bs)
	for i := 0; i < bs; i++ {
		row := (b.cursor*bs + i) % len(b.src.Source)
		source[i] = b.src.Source[row]
		target[i] = b.src.Target[row]
	}
	return source, target
}

func (b *memoryBatches) Err() error   { return nil }
func (b *memoryBatches) Close() error { return nil }
