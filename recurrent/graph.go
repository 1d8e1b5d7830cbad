package recurrent

import (
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
)

type backprop func()

/*
Graph is the neural network graph. Every op records a closure that pushes
the gradient of its output back into its inputs.
*/
type Graph struct {
	NeedsBackprop bool
	Backprop      []backprop // holds backprop functions
}

/*
NewGraph instantiates a new Graph
*/
func NewGraph(needsBackprop bool) *Graph {
	return &Graph{
		NeedsBackprop: needsBackprop,
		Backprop:      make([]backprop, 0),
	}
}

/*
AddBackprop adds the backpropagation function `f` to the end of the Backrop list.
*/
func (g *Graph) AddBackprop(f func()) {
	g.Backprop = append(g.Backprop, f)
}

/*
Backward runs all backpropagation functions, newest first.
*/
func (g *Graph) Backward() {
	for i := len(g.Backprop) - 1; i >= 0; i-- {
		g.Backprop[i]()
	}
	g.Backprop = nil
}

/*
Gather plucks row ixs[r] of m into row r of the output. This is the
embedding lookup for a whole batch.
*/
func (g *Graph) Gather(m *Mat, ixs []int) *Mat {
	d := m.ColumnCount
	out := NewMat(len(ixs), d)

	for r, ix := range ixs {
		Assert(ix >= 0 && ix < m.RowCount, "Gather invalid row index")
		copy(out.W[r*d:(r+1)*d], m.W[ix*d:(ix+1)*d])
	}

	if g.NeedsBackprop {
		backpropGather := func() {
			for r, ix := range ixs {
				floats.Add(m.DW[ix*d:(ix+1)*d], out.DW[r*d:(r+1)*d])
			}
		}
		g.AddBackprop(backpropGather)
	}
	return out
}

/*
Tanh does tanh nonlinearity
*/
func (g *Graph) Tanh(m *Mat) *Mat {
	out := NewMat(m.RowCount, m.ColumnCount)
	n := len(m.W)
	for ix := 0; ix < n; ix++ {
		out.W[ix] = math.Tanh(m.W[ix])
	}

	if g.NeedsBackprop {
		backpropTanh := func() {
			for i := 0; i < n; i++ {
				// grad for z = tanh(x) is (1 - z^2)
				mwi := out.W[i]
				m.DW[i] += (1.0 - mwi*mwi) * out.DW[i]
			}
		}
		g.AddBackprop(backpropTanh)
	}
	return out
}

/*
Sigmoid does sigmoid nonlinearity
*/
func (g *Graph) Sigmoid(m *Mat) *Mat {
	out := NewMat(m.RowCount, m.ColumnCount)
	n := len(m.W)
	for ix := 0; ix < n; ix++ {
		out.W[ix] = 1.0 / (1 + math.Exp(-m.W[ix]))
	}

	if g.NeedsBackprop {
		backpropSigmoid := func() {
			for i := 0; i < n; i++ {
				mwi := out.W[i]
				m.DW[i] += mwi * (1.0 - mwi) * out.DW[i]
			}
		}
		g.AddBackprop(backpropSigmoid)
	}
	return out
}

/*
Mul multiplies two matrices
*/
func (g *Graph) Mul(m1 *Mat, m2 *Mat) *Mat {
	Assert(m1.ColumnCount == m2.RowCount, "matmul dimensions misaligned")

	out := NewMat(m1.RowCount, m2.ColumnCount)
	blas64.Gemm(blas.NoTrans, blas.NoTrans, 1, m1.weights(), m2.weights(), 0, out.weights())

	if g.NeedsBackprop {
		backpropMul := func() {
			// dm1 += dout * m2^T, dm2 += m1^T * dout
			blas64.Gemm(blas.NoTrans, blas.Trans, 1, out.grads(), m2.weights(), 1, m1.grads())
			blas64.Gemm(blas.Trans, blas.NoTrans, 1, m1.weights(), out.grads(), 1, m2.grads())
		}
		g.AddBackprop(backpropMul)
	}
	return out
}

/*
Add adds two matrices of the same shape
*/
func (g *Graph) Add(m1 *Mat, m2 *Mat) *Mat {
	Assert(m1.RowCount == m2.RowCount && m1.ColumnCount == m2.ColumnCount, "Cannot add arrays")

	out := NewMat(m1.RowCount, m1.ColumnCount)
	floats.AddTo(out.W, m1.W, m2.W)

	if g.NeedsBackprop {
		backpropAdd := func() {
			floats.Add(m1.DW, out.DW)
			floats.Add(m2.DW, out.DW)
		}
		g.AddBackprop(backpropAdd)
	}
	return out
}

/*
AddBias adds the single-row matrix b to every row of m.
*/
func (g *Graph) AddBias(m *Mat, b *Mat) *Mat {
	Assert(b.RowCount == 1 && b.ColumnCount == m.ColumnCount, "bias must be a single row matching columns")

	d := m.ColumnCount
	out := NewMat(m.RowCount, d)
	for r := 0; r < m.RowCount; r++ {
		floats.AddTo(out.W[r*d:(r+1)*d], m.W[r*d:(r+1)*d], b.W)
	}

	if g.NeedsBackprop {
		backpropAddBias := func() {
			floats.Add(m.DW, out.DW)
			for r := 0; r < out.RowCount; r++ {
				floats.Add(b.DW, out.DW[r*d:(r+1)*d])
			}
		}
		g.AddBackprop(backpropAddBias)
	}
	return out
}

/*
Eltmul multiplies two matrices element by element
*/
func (g *Graph) Eltmul(m1 *Mat, m2 *Mat) *Mat {
	Assert(len(m1.W) == len(m2.W), "Cannot Eltmul")

	out := NewMat(m1.RowCount, m1.ColumnCount)
	floats.MulTo(out.W, m1.W, m2.W)

	if g.NeedsBackprop {
		backpropEltmul := func() {
			last := len(m1.W)
			for i := 0; i < last; i++ {
				m1.DW[i] += m2.W[i] * out.DW[i]
				m2.DW[i] += m1.W[i] * out.DW[i]
			}
		}
		g.AddBackprop(backpropEltmul)
	}
	return out
}

/*
CrossEntropy scores each row of logits against targets[r] and returns
scale * sum_r weights[r] * -log softmax(logits[r])[targets[r]].

The softmax is folded into the loss, so logits are consumed raw. The
backprop writes scale * weights[r] * (softmax - onehot) into logits.DW.
*/
func (g *Graph) CrossEntropy(logits *Mat, targets []int, weights []float64, scale float64) float64 {
	Assert(len(targets) == logits.RowCount && len(weights) == logits.RowCount, "CrossEntropy batch size mismatch")

	d := logits.ColumnCount
	lse := make([]float64, logits.RowCount)
	var loss float64

	for r, ix := range targets {
		Assert(ix >= 0 && ix < d, "CrossEntropy invalid target index")
		row := logits.W[r*d : (r+1)*d]
		lse[r] = floats.LogSumExp(row)
		loss += weights[r] * (lse[r] - row[ix])
	}

	if g.NeedsBackprop {
		backpropCrossEntropy := func() {
			for r, ix := range targets {
				w := scale * weights[r]
				if w == 0 {
					continue
				}
				row := logits.W[r*d : (r+1)*d]
				grad := logits.DW[r*d : (r+1)*d]
				for j := 0; j < d; j++ {
					grad[j] += w * math.Exp(row[j]-lse[r])
				}
				grad[ix] -= w
			}
		}
		g.AddBackprop(backpropCrossEntropy)
	}
	return scale * loss
}
