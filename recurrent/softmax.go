package recurrent

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

/*
Assert ensures our code is not breaking down and halts the program.
*/
func Assert(assertion bool, msg string) {
	if !assertion {
		panic(msg)
	}
}

/*
Softmax computes the softmax of every row of a matrix.
*/
func Softmax(m *Mat) *Mat {
	out := NewMat(m.RowCount, m.ColumnCount) // probability volume
	d := m.ColumnCount

	for r := 0; r < m.RowCount; r++ {
		row := m.W[r*d : (r+1)*d]
		lse := floats.LogSumExp(row)
		for j, v := range row {
			out.W[r*d+j] = math.Exp(v - lse)
		}
	}

	// no backward pass here needed, the loss
	// works on the raw scores
	return out
}

/*
ArgmaxI returns the index of the largest value in w.
*/
func ArgmaxI(w []float64) int {
	return floats.MaxIdx(w)
}
