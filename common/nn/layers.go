// Copyright 2024 gorse Project Authors
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

import (
	"math/rand"

	"github.com/chewxy/math32"
)

type Layer interface {
	Parameters() []*Tensor
	Forward(x *Tensor) *Tensor
}

type Model Layer

// trainable is implemented by layers behaving differently in training and evaluation.
type trainable interface {
	setTraining(training bool)
}

// SetTraining switches a layer and its children between training and evaluation mode.
func SetTraining(l Layer, training bool) {
	if t, ok := l.(trainable); ok {
		t.setTraining(training)
	}
}

type LinearLayer struct {
	W *Tensor
	B *Tensor
}

func NewLinear(in, out int) *LinearLayer {
	return &LinearLayer{
		W: Normal(0, 1.0/math32.Sqrt(float32(in)), in, out).RequireGrad(),
		B: Zeros(out).RequireGrad(),
	}
}

func (l *LinearLayer) Forward(x *Tensor) *Tensor {
	return Add(MatMul(x, l.W), l.B)
}

func (l *LinearLayer) Parameters() []*Tensor {
	return []*Tensor{l.W, l.B}
}

type sigmoidLayer struct{}

func NewSigmoid() Layer {
	return &sigmoidLayer{}
}

func (s *sigmoidLayer) Parameters() []*Tensor {
	return nil
}

func (s *sigmoidLayer) Forward(x *Tensor) *Tensor {
	return Sigmoid(x)
}

type reluLayer struct{}

func NewReLU() Layer {
	return &reluLayer{}
}

func (r *reluLayer) Parameters() []*Tensor {
	return nil
}

func (r *reluLayer) Forward(x *Tensor) *Tensor {
	return ReLu(x)
}

// DropoutLayer zeroes each element with probability p during training and scales the rest by
// 1/(1-p). It is the identity in evaluation mode.
type DropoutLayer struct {
	p        float32
	training bool
}

func NewDropout(p float32) *DropoutLayer {
	return &DropoutLayer{p: p, training: true}
}

func (d *DropoutLayer) Parameters() []*Tensor {
	return nil
}

func (d *DropoutLayer) Forward(x *Tensor) *Tensor {
	if !d.training || d.p <= 0 {
		return x
	}
	mask := Zeros(x.shape...)
	for i := range mask.data {
		if rand.Float32() >= d.p {
			mask.data[i] = 1 / (1 - d.p)
		}
	}
	return Mul(x, mask.NoGrad())
}

func (d *DropoutLayer) setTraining(training bool) {
	d.training = training
}

type Sequential struct {
	Layers []Layer
}

func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

func (s *Sequential) Parameters() []*Tensor {
	var params []*Tensor
	for _, l := range s.Layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

func (s *Sequential) Forward(x *Tensor) *Tensor {
	for _, l := range s.Layers {
		x = l.Forward(x)
	}
	return x
}

func (s *Sequential) setTraining(training bool) {
	for _, l := range s.Layers {
		SetTraining(l, training)
	}
}

// NewMLP creates a perceptron with a ReLU after every linear layer, the output layer included.
func NewMLP(in int, hidden []int, out int) *Sequential {
	var layers []Layer
	for _, h := range hidden {
		layers = append(layers, NewLinear(in, h), NewReLU())
		in = h
	}
	layers = append(layers, NewLinear(in, out), NewReLU())
	return NewSequential(layers...)
}
