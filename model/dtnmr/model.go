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

package dtnmr

import (
	"io"

	"github.com/gorse-io/nextsong/base/encoding"
	"github.com/gorse-io/nextsong/common/heap"
	"github.com/gorse-io/nextsong/common/nn"
	"github.com/gorse-io/nextsong/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// DTNMR scores candidate songs for a user. The preference of the user is the sum of a static
// embedding of the profile (USFC) and two dynamic embeddings of the recent playlist (UDFC), one
// over the long-term window and one over the short-term window. Songs are embedded by MFC and
// each candidate is rated by RC from the preference and the candidate embedding.
type DTNMR struct {
	model.BaseModel

	// hyper-parameters
	lr              float32
	nEpochs         int
	batchSize       int
	embeddingSize   int
	hiddenLayers    []int
	recurrentLayers int
	recurrentHidden int
	dropout         float32
	shortTermLength int
	optimizer       string

	// dimensions
	userWidth     int
	songWidth     int
	behaviorWidth int

	usfc *nn.Sequential
	mfc  *nn.Sequential
	udfc *nn.LSTMLayer
	head *nn.Sequential
	rc   *nn.LinearLayer
}

func NewDTNMR(params model.Params) *DTNMR {
	m := new(DTNMR)
	m.SetParams(params)
	return m
}

func (m *DTNMR) SetParams(params model.Params) {
	m.BaseModel.SetParams(params)
	m.lr = m.Params.GetFloat32(model.Lr, 0.1)
	m.nEpochs = m.Params.GetInt(model.NEpochs, 1)
	m.batchSize = m.Params.GetInt(model.BatchSize, 16)
	m.embeddingSize = m.Params.GetInt(model.EmbeddingSize, 32)
	m.hiddenLayers = m.Params.GetInts(model.HiddenLayers, []int{512, 64})
	m.recurrentLayers = m.Params.GetInt(model.RecurrentLayers, 2)
	m.recurrentHidden = m.Params.GetInt(model.RecurrentHidden, 256)
	m.dropout = m.Params.GetFloat32(model.Dropout, 0.3)
	m.shortTermLength = m.Params.GetInt(model.ShortTermLength, 10)
	m.optimizer = m.Params.GetString(model.Optimizer, "sgd")
}

// Init creates the networks for the given encoding widths.
func (m *DTNMR) Init(userWidth, songWidth, behaviorWidth int) {
	m.userWidth, m.songWidth, m.behaviorWidth = userWidth, songWidth, behaviorWidth
	m.usfc = nn.NewMLP(userWidth, m.hiddenLayers, m.embeddingSize)
	m.mfc = nn.NewMLP(songWidth, m.hiddenLayers, m.embeddingSize)
	m.udfc = nn.NewLSTM(m.embeddingSize+behaviorWidth, m.recurrentHidden, m.recurrentLayers, m.dropout)
	m.head = nn.NewSequential(
		nn.NewLinear(m.recurrentHidden, m.recurrentHidden),
		nn.NewDropout(m.dropout),
		nn.NewLinear(m.recurrentHidden, m.embeddingSize),
		nn.NewReLU(),
	)
	m.rc = nn.NewLinear(2*m.embeddingSize, 1)
}

// InitFromEncoders creates the networks for the widths of the encoders.
func (m *DTNMR) InitFromEncoders(encoders *Encoders) {
	m.Init(encoders.User.Len(), encoders.Song.Len(), encoders.Behavior.Len())
}

func (m *DTNMR) Clear() {
	m.usfc, m.mfc, m.udfc, m.head, m.rc = nil, nil, nil, nil, nil
}

func (m *DTNMR) Invalid() bool {
	return m == nil || m.rc == nil
}

// Parameters returns all weights in a fixed order.
func (m *DTNMR) Parameters() []*nn.Tensor {
	var params []*nn.Tensor
	params = append(params, m.usfc.Parameters()...)
	params = append(params, m.mfc.Parameters()...)
	params = append(params, m.udfc.Parameters()...)
	params = append(params, m.head.Parameters()...)
	params = append(params, m.rc.Parameters()...)
	return params
}

func (m *DTNMR) setTraining(training bool) {
	nn.SetTraining(m.udfc, training)
	nn.SetTraining(m.head, training)
}

// Forward returns the scores of the candidates, shape (1, len(candidates)).
func (m *DTNMR) Forward(ex *Example) *nn.Tensor {
	if len(ex.Candidates) == 0 {
		panic("example without candidates")
	}
	user := nn.NewTensor(append([]float32(nil), ex.User...), 1, m.userWidth).NoGrad()
	preference := m.usfc.Forward(user)
	if dynamic := m.dynamic(ex); dynamic != nil {
		preference = nn.Add(preference, dynamic)
	}
	candidates := m.mfc.Forward(matrix(ex.Candidates, m.songWidth))
	n := len(ex.Candidates)
	preferences := nn.MatMul(nn.Ones(n, 1).NoGrad(), preference)
	scores := m.rc.Forward(nn.Concat(1, preferences, candidates))
	return nn.Reshape(scores, 1, n)
}

// dynamic embeds the long-term and short-term windows. It returns nil for an empty playlist,
// which stands for a zero embedding.
func (m *DTNMR) dynamic(ex *Example) *nn.Tensor {
	steps := len(ex.Playlist)
	if steps == 0 {
		return nil
	}
	sequence := m.mfc.Forward(matrix(ex.Playlist, m.songWidth))
	if m.behaviorWidth > 0 {
		sequence = nn.Concat(1, sequence, matrix(ex.Behaviors, m.behaviorWidth))
	}
	longTerm := m.head.Forward(m.udfc.Forward(sequence))
	short := min(m.shortTermLength, steps)
	shortTerm := m.head.Forward(m.udfc.Forward(nn.Slice(sequence, 0, steps-short, steps)))
	return nn.Add(longTerm, shortTerm)
}

// Predict returns the scores of the candidates in evaluation mode.
func (m *DTNMR) Predict(ex *Example) []float32 {
	m.setTraining(false)
	defer m.setTraining(true)
	return m.Forward(ex).Data()
}

// Recommend returns the top n candidates of an example with their scores.
func (m *DTNMR) Recommend(ex *Example, n int) []heap.Elem[string, float32] {
	scores := m.Predict(ex)
	filter := heap.NewTopKFilter[string, float32](n)
	for i, score := range scores {
		filter.Push(ex.CandidateIds[i], score)
	}
	return filter.PopAll()
}

func (m *DTNMR) Marshal(w io.Writer) error {
	// write params
	if err := encoding.WriteGob(w, m.Params); err != nil {
		return errors.Trace(err)
	}
	// write dimensions
	if err := encoding.WriteGob(w, []int{m.userWidth, m.songWidth, m.behaviorWidth}); err != nil {
		return errors.Trace(err)
	}
	// write weights
	for _, param := range m.Parameters() {
		if err := encoding.WriteFloat32s(w, param.Data()); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (m *DTNMR) Unmarshal(r io.Reader) error {
	// read params
	var params model.Params
	if err := encoding.ReadGob(r, &params); err != nil {
		return errors.Trace(err)
	}
	m.SetParams(params)
	// read dimensions
	var dims []int
	if err := encoding.ReadGob(r, &dims); err != nil {
		return errors.Trace(err)
	}
	if len(dims) != 3 {
		return errors.NotValidf("dimensions %v", dims)
	}
	m.Init(dims[0], dims[1], dims[2])
	// read weights
	for i, param := range m.Parameters() {
		data, err := encoding.ReadFloat32s(r)
		if err != nil {
			return errors.Trace(err)
		}
		if len(data) != len(param.Data()) {
			return errors.NotValidf("weights %d of size %d, expect %d", i, len(data), len(param.Data()))
		}
		copy(param.Data(), data)
	}
	return nil
}

// matrix stacks vectors of the same width into a constant.
func matrix(vectors [][]float32, width int) *nn.Tensor {
	return nn.NewTensor(lo.Flatten(vectors), len(vectors), width).NoGrad()
}
