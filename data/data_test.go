package data

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadVocabulary(t *testing.T) {
	dir := t.TempDir()

	t.Run("indexes tokens by line", func(t *testing.T) {
		path := writeFile(t, dir, "vocab.en", "<unk> 0", "<s>", "</s>", "", "hello 12", "world")
		v, err := ReadVocabulary(path)
		if err != nil {
			t.Fatal(err)
		}
		if v.Len() != 5 || v.Index("hello") != 3 || v.Index("nope") != 0 || v.EndIndex() != 2 {
			t.Fatalf("vocab = %v", v.IndexToToken)
		}
	})
	t.Run("requires the reserved tokens", func(t *testing.T) {
		path := writeFile(t, dir, "vocab.bad", "<unk>", "hello")
		if _, err := ReadVocabulary(path); err == nil {
			t.Fail()
		}
	})
	t.Run("rejects duplicates", func(t *testing.T) {
		path := writeFile(t, dir, "vocab.dup", "<unk>", "</s>", "a", "a")
		if _, err := ReadVocabulary(path); err == nil {
			t.Fail()
		}
	})
	t.Run("missing file", func(t *testing.T) {
		if _, err := ReadVocabulary(filepath.Join(dir, "absent")); err == nil {
			t.Fail()
		}
	})
}

func TestEncode(t *testing.T) {
	v := &Vocabulary{TokenToIndex: map[string]int{"<unk>": 0, "<s>": 1, "</s>": 2, "a": 3, "b": 4}}

	if got := v.Encode("a b zzz", 6); !reflect.DeepEqual(got, []int{1, 3, 4, 0, 2, 2}) {
		t.Fatalf("padded = %v", got)
	}
	if got := v.Encode("a b a b a", 3); !reflect.DeepEqual(got, []int{1, 3, 4}) {
		t.Fatalf("truncated = %v", got)
	}

	delete(v.TokenToIndex, "<s>")
	if got := v.Encode("b", 3); !reflect.DeepEqual(got, []int{4, 2, 2}) {
		t.Fatalf("no start token = %v", got)
	}
}

func collect(t *testing.T, src Source) (sources, targets [][][]int) {
	t.Helper()
	it, err := src.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	for it.Next() {
		s, tg := it.Batch()
		sources = append(sources, s)
		targets = append(targets, tg)
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	return sources, targets
}

func TestCorpus(t *testing.T) {
	dir := t.TempDir()
	vocabPath := writeFile(t, dir, "vocab", "<unk>", "</s>", "a", "b", "c")
	vocab, err := ReadVocabulary(vocabPath)
	if err != nil {
		t.Fatal(err)
	}

	corpus := &Corpus{
		SourcePath:  writeFile(t, dir, "train.src", "a", "b", "c"),
		TargetPath:  writeFile(t, dir, "train.tgt", "c", "b", "a b"),
		SourceVocab: vocab,
		TargetVocab: vocab,
		MaxSize:     3,
		BatchSize:   2,
	}

	t.Run("Len rounds up", func(t *testing.T) {
		n, err := corpus.Len()
		if err != nil || n != 2 {
			t.Fatalf("n = %d, err = %v", n, err)
		}
	})
	t.Run("every batch is full and the last one wraps", func(t *testing.T) {
		sources, targets := collect(t, corpus)
		want := [][][]int{
			{{2, 1, 1}, {3, 1, 1}},
			{{4, 1, 1}, {2, 1, 1}},
		}
		if !reflect.DeepEqual(sources, want) {
			t.Fatalf("sources = %v", sources)
		}
		if !reflect.DeepEqual(targets[1], [][]int{{2, 3, 1}, {4, 1, 1}}) {
			t.Fatalf("targets = %v", targets)
		}
	})
	t.Run("each Open is a fresh pass", func(t *testing.T) {
		first, _ := collect(t, corpus)
		second, _ := collect(t, corpus)
		if !reflect.DeepEqual(first, second) {
			t.Fail()
		}
	})
	t.Run("line count mismatch is an error", func(t *testing.T) {
		bad := *corpus
		bad.TargetPath = writeFile(t, dir, "short.tgt", "a")
		it, err := bad.Open()
		if err != nil {
			t.Fatal(err)
		}
		defer it.Close()
		for it.Next() {
		}
		if it.Err() == nil {
			t.Fail()
		}
	})
}

func TestMemorySource(t *testing.T) {
	src := &MemorySource{
		Source:    [][]int{{1}, {2}, {3}},
		Target:    [][]int{{4}, {5}, {6}},
		BatchSize: 2,
	}
	sources, targets := collect(t, src)
	if !reflect.DeepEqual(sources, [][][]int{{{1}, {2}}, {{3}, {1}}}) {
		t.Fatalf("sources = %v", sources)
	}
	if !reflect.DeepEqual(targets[1], [][]int{{6}, {4}}) {
		t.Fatalf("targets = %v", targets)
	}
}
