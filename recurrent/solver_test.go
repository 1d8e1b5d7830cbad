package recurrent

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats"
)

func TestClipByNorm(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		grad := make([]float64, 1+trial%17)
		scale := math.Pow(10, float64(trial%7-3))
		for i := range grad {
			grad[i] = Randf(r, -scale, scale)
		}
		before := append([]float64(nil), grad...)
		maxNorm := Randf(r, 0.01, 5)

		norm := ClipByNorm(grad, maxNorm)
		if after := floats.Norm(grad, 2); after > maxNorm+1e-9 {
			t.Fatalf("trial %d: norm %v exceeds %v", trial, after, maxNorm)
		}
		if norm <= maxNorm && !floats.Equal(grad, before) {
			t.Fatalf("trial %d: gradient inside the bound was changed", trial)
		}
	}
}

func TestSolverStep(t *testing.T) {
	t.Run("applies clipped descent and clears gradients", func(t *testing.T) {
		a := NewMat(1, 2)
		a.W = []float64{1, 1}
		a.DW = []float64{3, 4} // norm 5
		b := NewMat(1, 1)
		b.W = []float64{2}
		b.DW = []float64{0.5}

		stats := NewSolver(1, 4).Step(Model{"a": a, "b": b}, 0.1)

		if math.Abs(a.W[0]-(1-0.1*0.6)) > 1e-12 || math.Abs(a.W[1]-(1-0.1*0.8)) > 1e-12 {
			t.Fatalf("a = %v", a.W)
		}
		if math.Abs(b.W[0]-1.95) > 1e-12 {
			t.Fatalf("b = %v", b.W)
		}
		if a.DW[0] != 0 || a.DW[1] != 0 || b.DW[0] != 0 {
			t.Fail()
		}
		if stats["ratio_clipped"] != 0.5 {
			t.Fatalf("ratio_clipped = %v", stats["ratio_clipped"])
		}
		if math.Abs(stats["grad_norm"]-math.Sqrt(25.25)) > 1e-12 {
			t.Fatalf("grad_norm = %v", stats["grad_norm"])
		}
	})
	t.Run("worker count is at least one", func(t *testing.T) {
		if NewSolver(1, 0).Workers != 1 {
			t.Fail()
		}
	})
}

func TestStackedLSTM(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	s := NewStackedLSTM(r, 5, 4, 3, -0.1, 0.1)
	g := NewGraph(false)
	x := RandMat(r, 2, 5, -1, 1)

	state := s.Step(g, x, s.ZeroState(2))
	if len(state.Hidden) != 3 || len(state.Cell) != 3 {
		t.Fatalf("depth %d", len(state.Hidden))
	}
	for d := range state.Hidden {
		if state.Hidden[d].RowCount != 2 || state.Hidden[d].ColumnCount != 4 {
			t.Fail()
		}
	}
	if len(s.Params("enc/")) != 36 {
		t.Fatalf("params = %d", len(s.Params("enc/")))
	}
	if s.Layers[0].Bf.W[0] != forgetBias {
		t.Fail()
	}
}
