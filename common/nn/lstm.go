// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nn

import "github.com/chewxy/math32"

type lstmCell struct {
	wi *Tensor // input weights of the gates (in, 4*hidden)
	wh *Tensor // recurrent weights of the gates (hidden, 4*hidden)
	b  *Tensor
}

// LSTMLayer is a stacked long short-term memory network. Forward consumes a sequence of shape
// (steps, in) and returns the hidden state of the top layer after the last step, shape
// (1, hidden).
type LSTMLayer struct {
	cells   []*lstmCell
	hidden  int
	dropout *DropoutLayer
}

func NewLSTM(in, hidden, layers int, dropout float32) *LSTMLayer {
	bound := 1 / math32.Sqrt(float32(hidden))
	l := &LSTMLayer{
		hidden:  hidden,
		dropout: NewDropout(dropout),
	}
	for i := 0; i < layers; i++ {
		l.cells = append(l.cells, &lstmCell{
			wi: Uniform(-bound, bound, in, 4*hidden).RequireGrad(),
			wh: Uniform(-bound, bound, hidden, 4*hidden).RequireGrad(),
			b:  Uniform(-bound, bound, 4*hidden).RequireGrad(),
		})
		in = hidden
	}
	return l
}

func (l *LSTMLayer) Hidden() int {
	return l.hidden
}

func (l *LSTMLayer) Parameters() []*Tensor {
	var params []*Tensor
	for _, c := range l.cells {
		params = append(params, c.wi, c.wh, c.b)
	}
	return params
}

func (l *LSTMLayer) Forward(x *Tensor) *Tensor {
	steps := x.shape[0]
	var h *Tensor
	for i, cell := range l.cells {
		// Dropout is applied to the outputs of every layer except the last.
		if i > 0 {
			x = l.dropout.Forward(x)
		}
		gates := Add(MatMul(x, cell.wi), cell.b)
		h = Zeros(1, l.hidden).NoGrad()
		c := Zeros(1, l.hidden).NoGrad()
		outputs := make([]*Tensor, 0, steps)
		for t := 0; t < steps; t++ {
			g := Chunk(Add(Slice(gates, 0, t, t+1), MatMul(h, cell.wh)), 4)
			in, forget, cand, out := Sigmoid(g[0]), Sigmoid(g[1]), Tanh(g[2]), Sigmoid(g[3])
			c = Add(Mul(forget, c), Mul(in, cand))
			h = Mul(out, Tanh(c))
			outputs = append(outputs, h)
		}
		if i < len(l.cells)-1 {
			x = Concat(0, outputs...)
		}
	}
	return h
}

func (l *LSTMLayer) setTraining(training bool) {
	l.dropout.setTraining(training)
}
