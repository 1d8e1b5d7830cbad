// Package attention trains and evaluates a stacked LSTM encoder/decoder
// that translates fixed-length token sequences. The decoder sees the
// encoder only through its final state and is trained with teacher
// forcing.
package attention

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ruffrey/attention-nn-go/recurrent"
)

/*
Model owns every trainable tensor of the network plus the training state
(global step and learning rate). It is not safe for concurrent use.
*/
type Model struct {
	cfg  Config
	sess *Session

	SourceEmbedding *recurrent.Mat // [s_nwords, hidden]
	TargetEmbedding *recurrent.Mat // [t_nwords, hidden]
	Encoder         *recurrent.StackedLSTM
	Decoder         *recurrent.StackedLSTM
	ProjW           *recurrent.Mat // [hidden, t_nwords]
	ProjB           *recurrent.Mat // [1, t_nwords]

	GlobalStep   int
	LearningRate float64

	params recurrent.Model
	solver *recurrent.Solver

	log      logrus.FieldLogger
	clock    Clock
	summary  ScalarWriter
	progress ProgressFunc
}

// Option configures the collaborators of a Model.
type Option func(*Model)

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Model) { m.log = log }
}

// WithClock sets the clock used to name checkpoints.
func WithClock(c Clock) Option {
	return func(m *Model) { m.clock = c }
}

// WithSummary sets where the per-batch loss is written.
func WithSummary(w ScalarWriter) Option {
	return func(m *Model) { m.summary = w }
}

// WithProgress sets the progress display factory.
func WithProgress(f ProgressFunc) Option {
	return func(m *Model) { m.progress = f }
}

/*
New validates cfg and initializes every parameter from the session's
random source. A missing checkpoint directory fails before anything is
allocated.
*/
func New(cfg Config, sess *Session, opts ...Option) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.checkpointDirExists(); err != nil {
		return nil, err
	}
	if err := sess.check(); err != nil {
		return nil, err
	}

	m := &Model{
		cfg:          cfg,
		sess:         sess,
		LearningRate: cfg.LearningRate,
		solver:       recurrent.NewSolver(cfg.MaxGradNorm, sess.Workers),
		log:          logrus.StandardLogger(),
		clock:        SystemClock,
	}
	for _, opt := range opts {
		opt(m)
	}

	r := sess.Rand
	m.SourceEmbedding = recurrent.RandMat(r, cfg.SourceVocabSize, cfg.HiddenSize, cfg.MinVal, cfg.MaxVal)
	m.Encoder = recurrent.NewStackedLSTM(r, cfg.HiddenSize, cfg.HiddenSize, cfg.NumLayers, cfg.MinVal, cfg.MaxVal)
	m.TargetEmbedding = recurrent.RandMat(r, cfg.TargetVocabSize, cfg.HiddenSize, cfg.MinVal, cfg.MaxVal)
	m.Decoder = recurrent.NewStackedLSTM(r, cfg.HiddenSize, cfg.HiddenSize, cfg.NumLayers, cfg.MinVal, cfg.MaxVal)
	m.ProjW = recurrent.RandMat(r, cfg.HiddenSize, cfg.TargetVocabSize, cfg.MinVal, cfg.MaxVal)
	m.ProjB = recurrent.RandMat(r, 1, cfg.TargetVocabSize, cfg.MinVal, cfg.MaxVal)

	m.params = recurrent.Model{
		"encoder/embedding": m.SourceEmbedding,
		"decoder/embedding": m.TargetEmbedding,
		"proj/W":            m.ProjW,
		"proj/b":            m.ProjB,
	}
	recurrent.AddToModel(m.params, m.Encoder.Params("encoder/lstm/"))
	recurrent.AddToModel(m.params, m.Decoder.Params("decoder/lstm/"))

	m.log.WithFields(logrus.Fields{
		"hidden_size": cfg.HiddenSize,
		"num_layers":  cfg.NumLayers,
		"s_nwords":    cfg.SourceVocabSize,
		"t_nwords":    cfg.TargetVocabSize,
		"tensors":     len(m.params),
	}).Info("model built")
	return m, nil
}

// Config returns the configuration the model was built with.
func (m *Model) Config() Config {
	return m.cfg
}

// Params returns every trainable tensor by name.
func (m *Model) Params() recurrent.Model {
	return m.params
}

func (m *Model) checkBatch(name string, batch [][]int, vocabSize int) error {
	if len(batch) != m.cfg.BatchSize {
		return errors.Wrapf(ErrBatchShape, "%s has %d rows, want %d", name, len(batch), m.cfg.BatchSize)
	}
	for r, row := range batch {
		if len(row) != m.cfg.MaxSize {
			return errors.Wrapf(ErrBatchShape, "%s row %d has %d columns, want %d", name, r, len(row), m.cfg.MaxSize)
		}
		for t, ix := range row {
			if ix < 0 || ix >= vocabSize {
				return errors.Wrapf(ErrBatchShape, "%s[%d][%d] = %d outside vocabulary of %d", name, r, t, ix, vocabSize)
			}
		}
	}
	return nil
}

func (m *Model) checkInputs(source, target [][]int) error {
	if err := m.sess.check(); err != nil {
		return err
	}
	if err := m.checkBatch("source", source, m.cfg.SourceVocabSize); err != nil {
		return err
	}
	return m.checkBatch("target", target, m.cfg.TargetVocabSize)
}

// column returns the tokens of every row at step t.
func column(batch [][]int, t int) []int {
	col := make([]int, len(batch))
	for r, row := range batch {
		col[r] = row[t]
	}
	return col
}

func (m *Model) encode(g *recurrent.Graph, source [][]int) *recurrent.CellMemory {
	state := m.Encoder.ZeroState(len(source))
	for t := 0; t < m.cfg.MaxSize; t++ {
		x := g.Gather(m.SourceEmbedding, column(source, t))
		state = m.Encoder.Step(g, x, state)
	}
	return state
}

func (m *Model) decode(g *recurrent.Graph, state *recurrent.CellMemory, target [][]int) []*recurrent.Mat {
	outputs := make([]*recurrent.Mat, 0, m.cfg.MaxSize)
	for t := 0; t < m.cfg.MaxSize; t++ {
		x := g.Gather(m.TargetEmbedding, column(target, t))
		state = m.Decoder.Step(g, x, state)
		outputs = append(outputs, state.Output())
	}
	return outputs
}

func (m *Model) project(g *recurrent.Graph, h *recurrent.Mat) *recurrent.Mat {
	return g.AddBias(g.Mul(h, m.ProjW), m.ProjB)
}

// weights returns the loss weight of every target position from step 1 on.
func (m *Model) weights(target [][]int) ([][]float64, float64) {
	steps := make([][]float64, m.cfg.MaxSize-1)
	total := 0.0
	for t := range steps {
		steps[t] = make([]float64, len(target))
		for r, row := range target {
			if m.cfg.MaskPadding && row[t+1] == m.cfg.PadIndex {
				continue
			}
			steps[t][r] = 1
			total++
		}
	}
	return steps, total
}

/*
sequenceLoss is the weighted mean cross entropy of the logits at steps
[0, MaxSize-1) against the targets at [1, MaxSize).
*/
func (m *Model) sequenceLoss(g *recurrent.Graph, outputs []*recurrent.Mat, target [][]int) float64 {
	weights, total := m.weights(target)
	if total == 0 {
		return 0
	}
	loss := 0.0
	for t := 0; t < m.cfg.MaxSize-1; t++ {
		logits := m.project(g, outputs[t])
		loss += g.CrossEntropy(logits, column(target, t+1), weights[t], 1/total)
	}
	return loss
}

func (m *Model) forward(g *recurrent.Graph, source, target [][]int) float64 {
	state := m.encode(g, source)
	outputs := m.decode(g, state, target)
	return m.sequenceLoss(g, outputs, target)
}

/*
Encode runs the encoder over a source batch and returns its final state,
one [batch, hidden] cell and hidden matrix per layer.
*/
func (m *Model) Encode(source [][]int) (*recurrent.CellMemory, error) {
	if err := m.sess.check(); err != nil {
		return nil, err
	}
	if err := m.checkBatch("source", source, m.cfg.SourceVocabSize); err != nil {
		return nil, err
	}
	return m.encode(recurrent.NewGraph(false), source), nil
}

/*
Decode runs the teacher-forced decoder from state and returns the top
hidden state of every step.
*/
func (m *Model) Decode(state *recurrent.CellMemory, target [][]int) ([]*recurrent.Mat, error) {
	if err := m.sess.check(); err != nil {
		return nil, err
	}
	if err := m.checkBatch("target", target, m.cfg.TargetVocabSize); err != nil {
		return nil, err
	}
	if len(state.Hidden) != m.cfg.NumLayers || len(state.Cell) != m.cfg.NumLayers {
		return nil, errors.Wrapf(ErrBatchShape, "state has %d layers, want %d", len(state.Hidden), m.cfg.NumLayers)
	}
	return m.decode(recurrent.NewGraph(false), state, target), nil
}

/*
Probabilities returns, for every step, the [batch, t_nwords] softmax of
the projected decoder output.
*/
func (m *Model) Probabilities(source, target [][]int) ([]*recurrent.Mat, error) {
	if err := m.checkInputs(source, target); err != nil {
		return nil, err
	}
	g := recurrent.NewGraph(false)
	outputs := m.decode(g, m.encode(g, source), target)
	probs := make([]*recurrent.Mat, len(outputs))
	for t, h := range outputs {
		probs[t] = recurrent.Softmax(m.project(g, h))
	}
	return probs, nil
}

/*
Predict returns the most likely next token at every step, [batch][MaxSize].
*/
func (m *Model) Predict(source, target [][]int) ([][]int, error) {
	probs, err := m.Probabilities(source, target)
	if err != nil {
		return nil, err
	}
	pred := make([][]int, len(source))
	for r := range pred {
		pred[r] = make([]int, len(probs))
		for t, p := range probs {
			pred[r][t] = recurrent.ArgmaxI(p.Row(r))
		}
	}
	return pred, nil
}

/*
Loss runs the forward pass only and returns the sequence loss. Nothing is
mutated.
*/
func (m *Model) Loss(source, target [][]int) (float64, error) {
	if err := m.checkInputs(source, target); err != nil {
		return 0, err
	}
	return m.forward(recurrent.NewGraph(false), source, target), nil
}

/*
TrainStep runs forward and backward passes over one batch, applies one
clipped gradient descent update and advances GlobalStep. Either the
update and the step both happen or neither does.
*/
func (m *Model) TrainStep(source, target [][]int) (float64, error) {
	if err := m.checkInputs(source, target); err != nil {
		return 0, err
	}

	g := recurrent.NewGraph(true)
	loss := m.forward(g, source, target)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, errors.Wrapf(ErrNonFiniteLoss, "step %d", m.GlobalStep)
	}
	// use built up graph to compute backprop (set .DW fields in mats)
	g.Backward()

	stats := m.solver.Step(m.params, m.LearningRate)
	m.GlobalStep++

	m.log.WithFields(logrus.Fields{
		"step":          m.GlobalStep,
		"loss":          loss,
		"grad_norm":     stats["grad_norm"],
		"ratio_clipped": stats["ratio_clipped"],
	}).Debug("batch")
	return loss, nil
}
