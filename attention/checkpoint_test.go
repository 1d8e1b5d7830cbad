package attention

import (
	"bufio"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/ruffrey/attention-nn-go/data"
)

func TestModelName(t *testing.T) {
	if got := ModelName(fixedClock()); got != "attention-10-15-9" {
		t.Fatalf("name = %s", got)
	}
	if got := ModelName(time.Date(2027, time.January, 2, 23, 0, 0, 0, time.UTC)); got != "attention-1-2-23" {
		t.Fatalf("name = %s", got)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	cfg := tinyConfig(t)
	a := newModel(t, cfg, 31)
	a.GlobalStep = 17
	a.LearningRate = 0.125

	want, err := a.Loss(corpusSource[:2], corpusTarget[:2])
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Save("attention-10-15-9", a.GlobalStep); err != nil {
		t.Fatal(err)
	}

	// the training forward pass sees the same parameters that were saved
	trained, err := a.TrainStep(corpusSource[:2], corpusTarget[:2])
	if err != nil {
		t.Fatal(err)
	}

	b := newModel(t, cfg, 32)
	if before, _ := b.Loss(corpusSource[:2], corpusTarget[:2]); before == want {
		t.Fatal("models with different seeds agree before loading")
	}
	if err := b.Load(); err != nil {
		t.Fatal(err)
	}
	got, err := b.Loss(corpusSource[:2], corpusTarget[:2])
	if err != nil {
		t.Fatal(err)
	}
	if got != want || trained != want {
		t.Fatalf("loaded loss %v, saved loss %v, training loss %v", got, want, trained)
	}
	if b.GlobalStep != 17 || b.LearningRate != 0.125 {
		t.Fatalf("step %d lr %v", b.GlobalStep, b.LearningRate)
	}

	ppl, err := b.Test(&data.MemorySource{Source: corpusSource[:2], Target: corpusTarget[:2], BatchSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(math.Log(ppl)-want) > 1e-12 {
		t.Fatalf("perplexity %v for loss %v", ppl, want)
	}
}

func TestCheckpointIndex(t *testing.T) {
	cfg := tinyConfig(t)
	m := newModel(t, cfg, 33)
	m.Save("attention-1-1-1", 1)
	m.Save("attention-1-1-2", 2)
	m.Save("attention-1-1-2", 2)

	b, err := os.ReadFile(filepath.Join(cfg.CheckpointDir, checkpointIndex))
	if err != nil {
		t.Fatal(err)
	}
	var idx index
	if err := json.Unmarshal(b, &idx); err != nil {
		t.Fatal(err)
	}
	if idx.Latest != "attention-1-1-2-2" || len(idx.All) != 2 {
		t.Fatalf("index = %+v", idx)
	}

	// nothing temporary is left behind
	entries, _ := os.ReadDir(cfg.CheckpointDir)
	if len(entries) != 3 {
		t.Fatalf("%d files in checkpoint dir", len(entries))
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("empty directory", func(t *testing.T) {
		m := newModel(t, tinyConfig(t), 34)
		if err := m.Load(); errors.Cause(err) != ErrNoCheckpoint {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("index points at a missing file", func(t *testing.T) {
		cfg := tinyConfig(t)
		m := newModel(t, cfg, 35)
		path, _ := m.Save("attention-1-1-1", 0)
		os.Remove(path)
		if err := m.Load(); errors.Cause(err) != ErrNoCheckpoint {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("different architecture", func(t *testing.T) {
		cfg := tinyConfig(t)
		m := newModel(t, cfg, 36)
		m.Save("attention-1-1-1", 0)

		cfg.HiddenSize = 6
		other := newModel(t, cfg, 37)
		before := snapshotWeights(other)
		if err := other.Load(); errors.Cause(err) != ErrCheckpointMismatch {
			t.Fatalf("err = %v", err)
		}
		if !sameWeights(before, snapshotWeights(other)) {
			t.Fatal("failed load changed weights")
		}

		cfg.HiddenSize = 4
		cfg.NumLayers = 3
		deeper := newModel(t, cfg, 38)
		if err := deeper.Load(); errors.Cause(err) != ErrCheckpointMismatch {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestFileSummaryWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileSummaryWriter(dir, "attention-10-15-9")
	if err != nil {
		t.Fatal(err)
	}
	w.WriteScalar("loss", 1, 2.5)
	w.WriteScalar("loss", 2, 2.25)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(dir, "attention-10-15-9", "events.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatal(err)
		}
		lines = append(lines, line)
	}
	if len(lines) != 2 || lines[1]["tag"] != "loss" || lines[1]["step"] != 2.0 || lines[1]["value"] != 2.25 {
		t.Fatalf("lines = %v", lines)
	}
}
