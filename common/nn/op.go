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

	"github.com/chewxy/math32"
)

type op interface {
	String() string
	forward(inputs ...*Tensor) *Tensor
	backward(dy *Tensor) []*Tensor
	inputsAndOutput() ([]*Tensor, *Tensor)
	setInputs(inputs ...*Tensor)
	setOutput(y *Tensor)
}

type base struct {
	inputs []*Tensor
	output *Tensor
}

func (b *base) inputsAndOutput() ([]*Tensor, *Tensor) {
	return b.inputs, b.output
}

func (b *base) setInputs(inputs ...*Tensor) {
	b.inputs = inputs
}

func (b *base) setOutput(y *Tensor) {
	b.output = y
}

func apply[T op](f T, inputs ...*Tensor) *Tensor {
	y := f.forward(inputs...)
	f.setInputs(inputs...)
	f.setOutput(y)
	y.op = f
	return y
}

// reduce sums dy into the shape of a broadcast operand.
func reduce(dy *Tensor, shape []int, scale func(i int) float32) *Tensor {
	gx := Zeros(shape...)
	wSize := len(gx.data)
	for i := range dy.data {
		gx.data[i%wSize] += dy.data[i] * scale(i)
	}
	return gx
}

type add struct {
	base
}

func (a *add) String() string {
	return "Add"
}

func (a *add) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].clone().add(inputs[1])
}

func (a *add) backward(dy *Tensor) []*Tensor {
	gx0 := dy.clone()
	gx1 := reduce(dy, a.inputs[1].shape, func(int) float32 { return 1 })
	return []*Tensor{gx0, gx1}
}

type sub struct {
	base
}

func (s *sub) String() string {
	return "Sub"
}

func (s *sub) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].clone().sub(inputs[1])
}

func (s *sub) backward(dy *Tensor) []*Tensor {
	gx0 := dy.clone()
	gx1 := reduce(dy, s.inputs[1].shape, func(int) float32 { return -1 })
	return []*Tensor{gx0, gx1}
}

type mul struct {
	base
}

func (m *mul) String() string {
	return "Mul"
}

func (m *mul) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].clone().mul(inputs[1])
}

func (m *mul) backward(dy *Tensor) []*Tensor {
	gx0 := dy.clone().mul(m.inputs[1])
	gx1 := reduce(dy, m.inputs[1].shape, func(i int) float32 { return m.inputs[0].data[i] })
	return []*Tensor{gx0, gx1}
}

type div struct {
	base
}

func (d *div) String() string {
	return "Div"
}

func (d *div) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].clone().div(inputs[1])
}

func (d *div) backward(dy *Tensor) []*Tensor {
	x0, x1 := d.inputs[0], d.inputs[1]
	wSize := len(x1.data)
	gx0 := dy.clone().div(x1)
	gx1 := reduce(dy, x1.shape, func(i int) float32 {
		w := x1.data[i%wSize]
		return -x0.data[i] / (w * w)
	})
	return []*Tensor{gx0, gx1}
}

type exp struct {
	base
}

func (e *exp) String() string {
	return "Exp"
}

func (e *exp) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].clone().exp()
}

func (e *exp) backward(dy *Tensor) []*Tensor {
	return []*Tensor{e.output.clone().mul(dy)}
}

type log struct {
	base
}

func (l *log) String() string {
	return "Log"
}

func (l *log) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].clone().log()
}

func (l *log) backward(dy *Tensor) []*Tensor {
	return []*Tensor{dy.clone().div(l.inputs[0])}
}

type tanh struct {
	base
}

func (t *tanh) String() string {
	return "Tanh"
}

func (t *tanh) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].clone().tanh()
}

func (t *tanh) backward(dy *Tensor) []*Tensor {
	// dx = dy * (1 - y^2)
	dx := dy.clone()
	for i, y := range t.output.data {
		dx.data[i] *= 1 - y*y
	}
	return []*Tensor{dx}
}

type sigmoid struct {
	base
}

func (s *sigmoid) String() string {
	return "Sigmoid"
}

func (s *sigmoid) forward(inputs ...*Tensor) *Tensor {
	// y = tanh(x * 0.5) * 0.5 + 0.5
	y := inputs[0].clone()
	y.mul(NewScalar(0.5))
	y.tanh()
	y.mul(NewScalar(0.5))
	y.add(NewScalar(0.5))
	return y
}

func (s *sigmoid) backward(dy *Tensor) []*Tensor {
	// dx = dy * y * (1 - y)
	dx := dy.clone()
	for i, y := range s.output.data {
		dx.data[i] *= y * (1 - y)
	}
	return []*Tensor{dx}
}

type relu struct {
	base
}

func (r *relu) String() string {
	return "ReLU"
}

func (r *relu) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].clone().maximum(NewScalar(0))
}

func (r *relu) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	for i, x := range r.inputs[0].data {
		if x <= 0 {
			dx.data[i] = 0
		}
	}
	return []*Tensor{dx}
}

type sum struct {
	base
}

func (s *sum) String() string {
	return "Sum"
}

func (s *sum) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	y := NewScalar(0)
	for i := range x.data {
		y.data[0] += x.data[i]
	}
	return y
}

func (s *sum) backward(dy *Tensor) []*Tensor {
	dx := Zeros(s.inputs[0].shape...)
	for i := range dx.data {
		dx.data[i] = dy.data[0]
	}
	return []*Tensor{dx}
}

type mean struct {
	base
}

func (m *mean) String() string {
	return "Mean"
}

func (m *mean) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	y := NewScalar(0)
	for i := range x.data {
		y.data[0] += x.data[i]
	}
	y.data[0] /= float32(len(x.data))
	return y
}

func (m *mean) backward(dy *Tensor) []*Tensor {
	dx := Zeros(m.inputs[0].shape...)
	for i := range dx.data {
		dx.data[i] = dy.data[0] / float32(len(dx.data))
	}
	return []*Tensor{dx}
}

type matMul struct {
	base
}

func (m *matMul) String() string {
	return "MatMul"
}

func (m *matMul) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].matMul(inputs[1], false, false)
}

func (m *matMul) backward(dy *Tensor) []*Tensor {
	var dx0, dx1 *Tensor
	if !m.inputs[0].noGrad {
		dx0 = dy.matMul(m.inputs[1], false, true)
	}
	if !m.inputs[1].noGrad {
		dx1 = m.inputs[0].matMul(dy, true, false)
	}
	return []*Tensor{dx0, dx1}
}

type reshape struct {
	base
	shape []int
}

func (r *reshape) String() string {
	return "Reshape"
}

func (r *reshape) forward(inputs ...*Tensor) *Tensor {
	return NewTensor(inputs[0].clone().data, r.shape...)
}

func (r *reshape) backward(dy *Tensor) []*Tensor {
	return []*Tensor{NewTensor(dy.clone().data, r.inputs[0].shape...)}
}

// concat joins matrices along an axis.
type concat struct {
	base
	axis int
}

func (c *concat) String() string {
	return "Concat"
}

func (c *concat) forward(inputs ...*Tensor) *Tensor {
	rows, cols := inputs[0].shape[0], 0
	if c.axis == 0 {
		cols = inputs[0].shape[1]
		rows = 0
		for _, x := range inputs {
			rows += x.shape[0]
		}
		data := make([]float32, 0, rows*cols)
		for _, x := range inputs {
			data = append(data, x.data...)
		}
		return NewTensor(data, rows, cols)
	}
	for _, x := range inputs {
		cols += x.shape[1]
	}
	data := make([]float32, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for _, x := range inputs {
			w := x.shape[1]
			data = append(data, x.data[i*w:(i+1)*w]...)
		}
	}
	return NewTensor(data, rows, cols)
}

func (c *concat) backward(dy *Tensor) []*Tensor {
	grads := make([]*Tensor, len(c.inputs))
	if c.axis == 0 {
		offset := 0
		for i, x := range c.inputs {
			n := len(x.data)
			grads[i] = NewTensor(append([]float32(nil), dy.data[offset:offset+n]...), x.shape...)
			offset += n
		}
		return grads
	}
	rows, cols := dy.shape[0], dy.shape[1]
	offset := 0
	for i, x := range c.inputs {
		w := x.shape[1]
		g := Zeros(x.shape...)
		for r := 0; r < rows; r++ {
			copy(g.data[r*w:(r+1)*w], dy.data[r*cols+offset:r*cols+offset+w])
		}
		grads[i] = g
		offset += w
	}
	return grads
}

// slice selects a row range (axis 0) or a column range (axis 1) of a matrix.
type slice struct {
	base
	axis       int
	start, end int
}

func (s *slice) String() string {
	return "Slice"
}

func (s *slice) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	rows, cols := x.shape[0], x.shape[1]
	if s.axis == 0 {
		data := append([]float32(nil), x.data[s.start*cols:s.end*cols]...)
		return NewTensor(data, s.end-s.start, cols)
	}
	w := s.end - s.start
	data := make([]float32, 0, rows*w)
	for r := 0; r < rows; r++ {
		data = append(data, x.data[r*cols+s.start:r*cols+s.end]...)
	}
	return NewTensor(data, rows, w)
}

func (s *slice) backward(dy *Tensor) []*Tensor {
	x := s.inputs[0]
	rows, cols := x.shape[0], x.shape[1]
	dx := Zeros(x.shape...)
	if s.axis == 0 {
		copy(dx.data[s.start*cols:s.end*cols], dy.data)
		return []*Tensor{dx}
	}
	w := s.end - s.start
	for r := 0; r < rows; r++ {
		copy(dx.data[r*cols+s.start:r*cols+s.end], dy.data[r*w:(r+1)*w])
	}
	return []*Tensor{dx}
}

// softmaxCrossEntropy computes the mean cross entropy between softmax(x) and integer targets.
type softmaxCrossEntropy struct {
	base
}

func (s *softmaxCrossEntropy) String() string {
	return "SoftmaxCrossEntropy"
}

func (s *softmaxCrossEntropy) forward(inputs ...*Tensor) *Tensor {
	x, t := inputs[0], inputs[1]
	n, c := x.shape[0], x.shape[1]
	y := NewScalar(0)
	for i := 0; i < n; i++ {
		row := x.data[i*c : (i+1)*c]
		y.data[0] += logSumExp(row) - row[int(t.data[i])]
	}
	y.data[0] /= float32(n)
	return y
}

func (s *softmaxCrossEntropy) backward(dy *Tensor) []*Tensor {
	x, t := s.inputs[0], s.inputs[1]
	n, c := x.shape[0], x.shape[1]
	dx := Zeros(x.shape...)
	for i := 0; i < n; i++ {
		row := x.data[i*c : (i+1)*c]
		lse := logSumExp(row)
		for j := range row {
			dx.data[i*c+j] = math32.Exp(row[j]-lse) * dy.data[0] / float32(n)
		}
		dx.data[i*c+int(t.data[i])] -= dy.data[0] / float32(n)
	}
	return []*Tensor{dx, nil}
}

func logSumExp(x []float32) float32 {
	m := x[0]
	for _, v := range x[1:] {
		m = max(m, v)
	}
	var s float32
	for _, v := range x {
		s += math32.Exp(v - m)
	}
	return m + math32.Log(s)
}

func checkSuffix(x0, x1 *Tensor) {
	if len(x0.shape) < len(x1.shape) {
		panic("the shape of the second tensor must be a suffix sequence of the shape of the first tensor")
	}
	for i := 0; i < len(x1.shape); i++ {
		if x0.shape[len(x0.shape)-len(x1.shape)+i] != x1.shape[i] {
			panic("the shape of the second tensor must be a suffix sequence of the shape of the first tensor")
		}
	}
}

// Add returns the element-wise sum of tensors. The shape of the other tensors must be a suffix sequence of the shape of the first tensor.
func Add(x0 *Tensor, x ...*Tensor) *Tensor {
	for _, x1 := range x {
		if len(x0.shape) < len(x1.shape) {
			x0, x1 = x1, x0
		}
		checkSuffix(x0, x1)
		x0 = apply(&add{}, x0, x1)
	}
	return x0
}

// Sub returns the element-wise difference of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Sub(x0, x1 *Tensor) *Tensor {
	checkSuffix(x0, x1)
	return apply(&sub{}, x0, x1)
}

// Mul returns the element-wise product of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Mul(x0, x1 *Tensor) *Tensor {
	if len(x0.shape) < len(x1.shape) {
		x0, x1 = x1, x0
	}
	checkSuffix(x0, x1)
	return apply(&mul{}, x0, x1)
}

// Div returns the element-wise division of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Div(x0, x1 *Tensor) *Tensor {
	checkSuffix(x0, x1)
	return apply(&div{}, x0, x1)
}

// Exp returns the element-wise exponential of a tensor.
func Exp(x *Tensor) *Tensor {
	return apply(&exp{}, x)
}

// Log returns the element-wise natural logarithm of a tensor.
func Log(x *Tensor) *Tensor {
	return apply(&log{}, x)
}

func Tanh(x *Tensor) *Tensor {
	return apply(&tanh{}, x)
}

func Sigmoid(x *Tensor) *Tensor {
	return apply(&sigmoid{}, x)
}

func ReLu(x *Tensor) *Tensor {
	return apply(&relu{}, x)
}

// Sum returns the sum of all elements in a tensor.
func Sum(x *Tensor) *Tensor {
	return apply(&sum{}, x)
}

// Mean returns the mean of all elements in a tensor.
func Mean(x *Tensor) *Tensor {
	return apply(&mean{}, x)
}

func MatMul(x, y *Tensor) *Tensor {
	return apply(&matMul{}, x, y)
}

func Reshape(x *Tensor, shape ...int) *Tensor {
	if size(shape) != len(x.data) {
		panic(fmt.Sprintf("cannot reshape %v into %v", x.shape, shape))
	}
	return apply(&reshape{shape: shape}, x)
}

// Concat joins matrices along axis 0 (rows) or axis 1 (columns).
func Concat(axis int, x ...*Tensor) *Tensor {
	if axis != 0 && axis != 1 {
		panic("concat supports axis 0 and 1 only")
	}
	if len(x) == 0 {
		panic("concat requires at least one tensor")
	}
	for _, t := range x {
		if len(t.shape) != 2 {
			panic("concat requires matrices")
		}
		if t.shape[1-axis] != x[0].shape[1-axis] {
			panic(fmt.Sprintf("concat: shape mismatch %v and %v", x[0].shape, t.shape))
		}
	}
	return apply(&concat{axis: axis}, x...)
}

// Slice returns rows (axis 0) or columns (axis 1) [start, end) of a matrix.
func Slice(x *Tensor, axis, start, end int) *Tensor {
	if axis != 0 && axis != 1 {
		panic("slice supports axis 0 and 1 only")
	}
	if len(x.shape) != 2 || start < 0 || end > x.shape[axis] || start >= end {
		panic(fmt.Sprintf("slice: invalid range [%d, %d) of %v", start, end, x.shape))
	}
	return apply(&slice{axis: axis, start: start, end: end}, x)
}

// Chunk splits a matrix into n matrices of equal width.
func Chunk(x *Tensor, n int) []*Tensor {
	if len(x.shape) != 2 || x.shape[1]%n != 0 {
		panic(fmt.Sprintf("chunk: cannot split %v into %d chunks", x.shape, n))
	}
	w := x.shape[1] / n
	chunks := make([]*Tensor, n)
	for i := range chunks {
		chunks[i] = Slice(x, 1, i*w, (i+1)*w)
	}
	return chunks
}

// SoftmaxCrossEntropy returns the mean cross entropy of logits x (n, c) against target class
// indices t (n).
func SoftmaxCrossEntropy(x, t *Tensor) *Tensor {
	if len(x.shape) != 2 || len(t.shape) != 1 || x.shape[0] != t.shape[0] {
		panic(fmt.Sprintf("softmax cross entropy: shape mismatch %v and %v", x.shape, t.shape))
	}
	for _, v := range t.data {
		if int(v) < 0 || int(v) >= x.shape[1] {
			panic(fmt.Sprintf("softmax cross entropy: target %v out of range", v))
		}
	}
	t.noGrad = true
	return apply(&softmaxCrossEntropy{}, x, t)
}
