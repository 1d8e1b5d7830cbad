package recurrent

import (
	"math/rand"
	"testing"
)

func TestMatrix(t *testing.T) {
	t.Run("toJSON returns a string", func(t *testing.T) {
		m := Mat{}
		s, err := m.toJSON()
		if err != nil || s == "" {
			t.Fail()
		}
	})
	t.Run("RandMat stays inside the bounds", func(t *testing.T) {
		r := rand.New(rand.NewSource(1))
		m := RandMat(r, 20, 30, -0.1, 0.1)
		for _, w := range m.W {
			if w < -0.1 || w >= 0.1 {
				t.Fatalf("weight %v out of range", w)
			}
		}
		if len(m.DW) != 600 {
			t.Fail()
		}
	})
	t.Run("Dense shares the weights", func(t *testing.T) {
		m := NewMat(2, 3)
		m.Dense().Set(1, 2, 7)
		if m.W[5] != 7 || m.Row(1)[2] != 7 {
			t.Fail()
		}
	})
}

func TestRandf(t *testing.T) {
	t.Run("Randf() produces a random number between two others", func(t *testing.T) {
		r := rand.New(rand.NewSource(2))
		for i := 0; i < 100; i++ {
			f := Randf(r, 1, 6)
			if f < 1 || f > 6 {
				t.Fail()
			}
		}
	})
}
