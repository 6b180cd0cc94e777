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
	"fmt"
	"math/rand"
	"strings"

	"github.com/chewxy/math32"
)

type Tensor struct {
	data   []float32
	shape  []int
	grad   *Tensor
	op     op
	noGrad bool
}

func NewTensor(data []float32, shape ...int) *Tensor {
	if len(shape) == 0 {
		shape = []int{len(data)}
	}
	if size(shape) != len(data) {
		panic(fmt.Sprintf("data of length %d does not fit shape %v", len(data), shape))
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

func NewScalar(data float32) *Tensor {
	return &Tensor{
		data:  []float32{data},
		shape: []int{},
	}
}

func LinSpace(start, end float32, shape ...int) *Tensor {
	n := size(shape)
	data := make([]float32, n)
	delta := (end - start) / float32(n-1)
	for i := range data {
		data[i] = start + delta*float32(i)
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// Rand creates a tensor filled with values drawn uniformly from [0, 1).
func Rand(shape ...int) *Tensor {
	data := make([]float32, size(shape))
	for i := range data {
		data[i] = rand.Float32()
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// Uniform creates a tensor filled with values drawn uniformly from [low, high).
func Uniform(low, high float32, shape ...int) *Tensor {
	data := make([]float32, size(shape))
	for i := range data {
		data[i] = low + rand.Float32()*(high-low)
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// Normal creates a tensor filled with values drawn from a normal distribution.
func Normal(mean, std float32, shape ...int) *Tensor {
	data := make([]float32, size(shape))
	for i := range data {
		data[i] = float32(rand.NormFloat64())*std + mean
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// Ones creates a tensor filled with ones.
func Ones(shape ...int) *Tensor {
	data := make([]float32, size(shape))
	for i := range data {
		data[i] = 1
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape ...int) *Tensor {
	return &Tensor{
		data:  make([]float32, size(shape)),
		shape: shape,
	}
}

// NoGrad marks a tensor as a constant. Gradients are never computed for it.
func (t *Tensor) NoGrad() *Tensor {
	t.op = nil
	t.noGrad = true
	return t
}

// RequireGrad marks a tensor as a parameter.
func (t *Tensor) RequireGrad() *Tensor {
	t.noGrad = false
	return t
}

func (t *Tensor) Data() []float32 {
	return t.data
}

func (t *Tensor) Shape() []int {
	return t.shape
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// Get returns the element at the given index.
func (t *Tensor) Get(indices ...int) float32 {
	if len(indices) != len(t.shape) {
		panic("the number of indices does not match the shape of the tensor")
	}
	offset := 0
	for i, index := range indices {
		offset = offset*t.shape[i] + index
	}
	return t.data[offset]
}

func (t *Tensor) String() string {
	// Print scalar value
	if len(t.shape) == 0 {
		return fmt.Sprint(t.data[0])
	}

	builder := strings.Builder{}
	builder.WriteString("[")
	if len(t.data) <= 10 {
		for i := 0; i < len(t.data); i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			if i != len(t.data)-1 {
				builder.WriteString(", ")
			}
		}
	} else {
		for i := 0; i < 5; i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			builder.WriteString(", ")
		}
		builder.WriteString("..., ")
		for i := len(t.data) - 5; i < len(t.data); i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			if i != len(t.data)-1 {
				builder.WriteString(", ")
			}
		}
	}
	builder.WriteString("]")
	return builder.String()
}

// Backward computes gradients of all tensors in the graph of t. Gradients of a tensor used by
// several operations are accumulated.
func (t *Tensor) Backward() {
	t.grad = Ones(t.shape...)
	if t.op == nil {
		return
	}
	// Sort operations so that an operation runs after every operation consuming its output.
	var (
		order   []op
		visited = make(map[op]struct{})
		stack   = []op{t.op}
		entered = make(map[op]struct{})
	)
	for len(stack) > 0 {
		o := stack[len(stack)-1]
		if _, ok := entered[o]; ok {
			stack = stack[:len(stack)-1]
			if _, ok := visited[o]; !ok {
				visited[o] = struct{}{}
				order = append(order, o)
			}
			continue
		}
		entered[o] = struct{}{}
		inputs, _ := o.inputsAndOutput()
		for _, x := range inputs {
			if x.op != nil {
				if _, ok := entered[x.op]; !ok {
					stack = append(stack, x.op)
				}
			}
		}
	}
	for i := len(order) - 1; i >= 0; i-- {
		o := order[i]
		inputs, output := o.inputsAndOutput()
		if output.grad == nil {
			continue
		}
		grads := o.backward(output.grad)
		for j, g := range grads {
			x := inputs[j]
			if g == nil || x.noGrad {
				continue
			}
			if x.grad == nil {
				x.grad = g
			} else {
				x.grad = x.grad.clone().add(g)
			}
		}
	}
}

func (t *Tensor) clone() *Tensor {
	newData := make([]float32, len(t.data))
	copy(newData, t.data)
	return &Tensor{
		data:  newData,
		shape: t.shape,
	}
}

func (t *Tensor) add(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] += other.data[i%wSize]
	}
	return t
}

func (t *Tensor) sub(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] -= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) mul(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] *= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) div(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] /= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) exp() *Tensor {
	for i := range t.data {
		t.data[i] = math32.Exp(t.data[i])
	}
	return t
}

func (t *Tensor) log() *Tensor {
	for i := range t.data {
		t.data[i] = math32.Log(t.data[i])
	}
	return t
}

func (t *Tensor) tanh() *Tensor {
	for i := range t.data {
		t.data[i] = math32.Tanh(t.data[i])
	}
	return t
}

func (t *Tensor) maximum(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] = max(t.data[i], other.data[i%wSize])
	}
	return t
}

// matMul multiplies two matrices. Zero entries of the left operand are skipped, so sparse
// inputs such as multi-hot vectors are cheap.
func (t *Tensor) matMul(other *Tensor, transpose1, transpose2 bool) *Tensor {
	if len(t.shape) != 2 || len(other.shape) != 2 {
		panic("matMul requires two matrices")
	}
	m, k := t.shape[0], t.shape[1]
	if transpose1 {
		m, k = k, m
	}
	k2, n := other.shape[0], other.shape[1]
	if transpose2 {
		k2, n = n, k2
	}
	if k != k2 {
		panic(fmt.Sprintf("matMul: shape mismatch %v x %v", t.shape, other.shape))
	}
	y := Zeros(m, n)
	for i := 0; i < m; i++ {
		row := y.data[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			var a float32
			if transpose1 {
				a = t.data[p*m+i]
			} else {
				a = t.data[i*k+p]
			}
			if a == 0 {
				continue
			}
			if transpose2 {
				for j := range row {
					row[j] += a * other.data[j*k+p]
				}
			} else {
				b := other.data[p*n : (p+1)*n]
				for j := range row {
					row[j] += a * b[j]
				}
			}
		}
	}
	return y
}

func size(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
