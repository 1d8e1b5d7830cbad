package recurrent

import (
	"encoding/json"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

/*
Mat holds a row-major matrix and the gradient accumulated for it during backprop.
*/
type Mat struct {
	RowCount    int
	ColumnCount int
	W           []float64
	DW          []float64
}

func (m *Mat) toJSON() (string, error) {
	b, err := json.Marshal(m)

	if err != nil {
		return "", err
	}

	return string(b[:]), err
}

func zeros(size int) []float64 {
	// no need to initialize zero values
	return make([]float64, size)
}

/*
NewMat instantiates a new matrix.
*/
func NewMat(n int, d int) *Mat {
	m := Mat{RowCount: n, ColumnCount: d}
	m.W = zeros(n * d)
	m.DW = zeros(n * d)
	return &m
}

/*
RandMat returns an n by d matrix filled uniformly from [minval, maxval).
*/
func RandMat(r Source, n int, d int, minval float64, maxval float64) *Mat {
	m := NewMat(n, d)
	last := len(m.W)

	for i := 0; i < last; i++ {
		m.W[i] = Randf(r, minval, maxval)
	}

	return m
}

// Fill sets every weight to v.
func (m *Mat) Fill(v float64) {
	for i := range m.W {
		m.W[i] = v
	}
}

// ZeroGrad clears the accumulated gradient.
func (m *Mat) ZeroGrad() {
	for i := range m.DW {
		m.DW[i] = 0
	}
}

// Row returns row i of the weights, sharing memory.
func (m *Mat) Row(i int) []float64 {
	return m.W[i*m.ColumnCount : (i+1)*m.ColumnCount]
}

// Dense wraps the weights in a gonum matrix without copying.
func (m *Mat) Dense() *mat.Dense {
	return mat.NewDense(m.RowCount, m.ColumnCount, m.W)
}

func (m *Mat) weights() blas64.General {
	return blas64.General{Rows: m.RowCount, Cols: m.ColumnCount, Stride: m.ColumnCount, Data: m.W}
}

func (m *Mat) grads() blas64.General {
	return blas64.General{Rows: m.RowCount, Cols: m.ColumnCount, Stride: m.ColumnCount, Data: m.DW}
}
