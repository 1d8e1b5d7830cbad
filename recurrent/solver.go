package recurrent

import (
	"math"
	"sort"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/floats"
)

/*
Solver applies plain gradient descent after clipping every gradient
tensor to an L2 norm of at most MaxGradNorm.
*/
type Solver struct {
	MaxGradNorm float64
	Workers     int
}

/*
SolverStats is the result of running the solver.
*/
type SolverStats map[string]float64

/*
NewSolver instantiates a Solver. Tensors are updated on up to workers
goroutines.
*/
func NewSolver(maxGradNorm float64, workers int) *Solver {
	if workers < 1 {
		workers = 1
	}
	return &Solver{
		MaxGradNorm: maxGradNorm,
		Workers:     workers,
	}
}

/*
ClipByNorm rescales grad in place so its L2 norm is at most maxNorm and
returns the norm before clipping.
*/
func ClipByNorm(grad []float64, maxNorm float64) float64 {
	norm := floats.Norm(grad, 2)
	if norm > maxNorm {
		floats.Scale(maxNorm/norm, grad)
	}
	return norm
}

/*
Step does a param update on the model and resets the gradients for the
next iteration. Every tensor is owned by exactly one goroutine and all of
them are finished when Step returns.
*/
func (solver *Solver) Step(model Model, stepSize float64) SolverStats {
	keys := make([]string, 0, len(model))
	for k := range model {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	norms := make([]float64, len(keys))
	p := pool.New().WithMaxGoroutines(solver.Workers)
	for i, k := range keys {
		i, m := i, model[k]
		p.Go(func() {
			norms[i] = ClipByNorm(m.DW, solver.MaxGradNorm)
			floats.AddScaled(m.W, -stepSize, m.DW)
			m.ZeroGrad()
		})
	}
	p.Wait()

	numClipped := 0.0
	sumSquares := 0.0
	for _, n := range norms {
		if n > solver.MaxGradNorm {
			numClipped++
		}
		sumSquares += n * n
	}

	solverStats := SolverStats{}
	solverStats["ratio_clipped"] = numClipped / math.Max(float64(len(keys)), 1)
	solverStats["grad_norm"] = math.Sqrt(sumSquares)
	return solverStats
}
