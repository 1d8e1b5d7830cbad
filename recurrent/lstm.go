package recurrent

import "strconv"

/*
Model is the set of trainable parameters, keyed by a stable name. The
solver and checkpoints work on it.
*/
type Model map[string]*Mat

/*
CellMemory is passed around during forward LSTM sessions. It holds the
[batch, hidden] hidden and cell matrices of every layer.
*/
type CellMemory struct {
	Hidden []*Mat
	Cell   []*Mat
}

/*
LSTMLayer holds the gate parameters of one layer. x is [batch, input],
so input weights are [input, hidden], recurrent weights [hidden, hidden]
and biases a single [1, hidden] row.
*/
type LSTMLayer struct {
	// input gate
	Wix, Wih, Bi *Mat
	// forget gate
	Wfx, Wfh, Bf *Mat
	// output gate
	Wox, Woh, Bo *Mat
	// cell write
	Wcx, Wch, Bc *Mat
}

// forgetBias starts the forget gate open.
const forgetBias = 1.0

/*
NewLSTMLayer initializes one layer with weights uniform in [minval, maxval).
*/
func NewLSTMLayer(r Source, inputSize int, hiddenSize int, minval float64, maxval float64) *LSTMLayer {
	l := &LSTMLayer{
		Wix: RandMat(r, inputSize, hiddenSize, minval, maxval),
		Wih: RandMat(r, hiddenSize, hiddenSize, minval, maxval),
		Bi:  NewMat(1, hiddenSize),
		Wfx: RandMat(r, inputSize, hiddenSize, minval, maxval),
		Wfh: RandMat(r, hiddenSize, hiddenSize, minval, maxval),
		Bf:  NewMat(1, hiddenSize),
		Wox: RandMat(r, inputSize, hiddenSize, minval, maxval),
		Woh: RandMat(r, hiddenSize, hiddenSize, minval, maxval),
		Bo:  NewMat(1, hiddenSize),
		Wcx: RandMat(r, inputSize, hiddenSize, minval, maxval),
		Wch: RandMat(r, hiddenSize, hiddenSize, minval, maxval),
		Bc:  NewMat(1, hiddenSize),
	}
	l.Bf.Fill(forgetBias)
	return l
}

func (l *LSTMLayer) gate(g *Graph, wx *Mat, wh *Mat, b *Mat, x *Mat, hiddenPrev *Mat) *Mat {
	h0 := g.Mul(x, wx)
	h1 := g.Mul(hiddenPrev, wh)
	return g.AddBias(g.Add(h0, h1), b)
}

/*
Forward runs one tick of the layer and returns the new hidden and cell.
*/
func (l *LSTMLayer) Forward(g *Graph, x *Mat, hiddenPrev *Mat, cellPrev *Mat) (*Mat, *Mat) {
	inputGate := g.Sigmoid(l.gate(g, l.Wix, l.Wih, l.Bi, x, hiddenPrev))
	forgetGate := g.Sigmoid(l.gate(g, l.Wfx, l.Wfh, l.Bf, x, hiddenPrev))
	outputGate := g.Sigmoid(l.gate(g, l.Wox, l.Woh, l.Bo, x, hiddenPrev))
	cellWrite := g.Tanh(l.gate(g, l.Wcx, l.Wch, l.Bc, x, hiddenPrev))

	// compute new cell activation
	retainCell := g.Eltmul(forgetGate, cellPrev) // what do we keep from cell
	writeCell := g.Eltmul(inputGate, cellWrite)  // what do we write to cell
	cell := g.Add(retainCell, writeCell)         // new cell contents

	// compute hidden state as gated, saturated cell activations
	hidden := g.Eltmul(outputGate, g.Tanh(cell))

	return hidden, cell
}

/*
StackedLSTM is num_layers LSTMLayers. Each layer is built once and
applied at every time step.
*/
type StackedLSTM struct {
	HiddenSize int
	Layers     []*LSTMLayer
}

/*
NewStackedLSTM initializes a stack of numLayers layers. The first layer
reads inputSize features, the rest read the layer below.
*/
func NewStackedLSTM(r Source, inputSize int, hiddenSize int, numLayers int, minval float64, maxval float64) *StackedLSTM {
	s := &StackedLSTM{HiddenSize: hiddenSize}
	prevSize := inputSize
	for d := 0; d < numLayers; d++ { // loop over depths
		s.Layers = append(s.Layers, NewLSTMLayer(r, prevSize, hiddenSize, minval, maxval))
		prevSize = hiddenSize
	}
	return s
}

/*
ZeroState returns an all-zero state for a batch.
*/
func (s *StackedLSTM) ZeroState(batchSize int) *CellMemory {
	mem := &CellMemory{
		Hidden: make([]*Mat, len(s.Layers)),
		Cell:   make([]*Mat, len(s.Layers)),
	}
	for d := range s.Layers {
		mem.Hidden[d] = NewMat(batchSize, s.HiddenSize)
		mem.Cell[d] = NewMat(batchSize, s.HiddenSize)
	}
	return mem
}

/*
Step feeds x through every layer, each layer reading the hidden output
of the one below and its own slot of prev.
*/
func (s *StackedLSTM) Step(g *Graph, x *Mat, prev *CellMemory) *CellMemory {
	Assert(len(prev.Hidden) == len(s.Layers) && len(prev.Cell) == len(s.Layers), "state depth does not match layers")

	next := &CellMemory{
		Hidden: make([]*Mat, len(s.Layers)),
		Cell:   make([]*Mat, len(s.Layers)),
	}
	inputVector := x
	for d, layer := range s.Layers {
		next.Hidden[d], next.Cell[d] = layer.Forward(g, inputVector, prev.Hidden[d], prev.Cell[d])
		inputVector = next.Hidden[d]
	}
	return next
}

// Output is the top layer's hidden state.
func (mem *CellMemory) Output() *Mat {
	return mem.Hidden[len(mem.Hidden)-1]
}

/*
Params names every parameter of the stack under prefix, e.g. "encoder/Wix0".
*/
func (s *StackedLSTM) Params(prefix string) Model {
	model := Model{}
	for d, l := range s.Layers {
		ds := strconv.Itoa(d)
		// gates parameters
		model[prefix+"Wix"+ds] = l.Wix
		model[prefix+"Wih"+ds] = l.Wih
		model[prefix+"bi"+ds] = l.Bi
		model[prefix+"Wfx"+ds] = l.Wfx
		model[prefix+"Wfh"+ds] = l.Wfh
		model[prefix+"bf"+ds] = l.Bf
		model[prefix+"Wox"+ds] = l.Wox
		model[prefix+"Woh"+ds] = l.Woh
		model[prefix+"bo"+ds] = l.Bo
		// cell write params
		model[prefix+"Wcx"+ds] = l.Wcx
		model[prefix+"Wch"+ds] = l.Wch
		model[prefix+"bc"+ds] = l.Bc
	}
	return model
}

/*
AddToModel copies every entry of from into to. Pointers are shared.
*/
func AddToModel(to Model, from Model) {
	for k := range from {
		to[k] = from[k]
	}
}

/*
ZeroGrad clears the gradients of every parameter.
*/
func (model Model) ZeroGrad() {
	for _, m := range model {
		m.ZeroGrad()
	}
}
