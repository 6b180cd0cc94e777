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
	"bytes"
	"context"
	"testing"

	"github.com/chewxy/math32"
	"github.com/gorse-io/nextsong/base"
	"github.com/gorse-io/nextsong/common/nn"
	"github.com/gorse-io/nextsong/dataset"
	"github.com/gorse-io/nextsong/model"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const epsilon = 1e-5

func newTestModel(sampler *Sampler, params model.Params) *DTNMR {
	m := NewDTNMR(model.Params{
		model.EmbeddingSize:   4,
		model.HiddenLayers:    []int{8},
		model.RecurrentLayers: 2,
		model.RecurrentHidden: 6,
		model.ShortTermLength: 2,
	}.Overwrite(params))
	m.InitFromEncoders(sampler.Encoders())
	return m
}

func assertAllClose(t *testing.T, expected, actual []float32) {
	require.Len(t, actual, len(expected))
	for i := range expected {
		assert.InDelta(t, expected[i], actual[i], epsilon)
	}
}

func TestDTNMR_Forward(t *testing.T) {
	sampler := newTestSampler(t, SamplerConfig{SubsetSize: 4, LongTermLength: 3})
	m := newTestModel(sampler, nil)
	ex, err := sampler.Sample(dataset.Point{UserId: "u1", SongId: "s6"}, base.NewRandomGenerator(0))
	require.NoError(t, err)
	m.setTraining(false)
	scores := m.Forward(ex)
	assert.Equal(t, []int{1, 4}, scores.Shape())

	// USFC(user) + UDFC(long term) + UDFC(short term), then RC over [preference, MFC(song)]
	user := nn.NewTensor(ex.User, 1, len(ex.User))
	sequence := nn.Concat(1, m.mfc.Forward(matrix(ex.Playlist, m.songWidth)), matrix(ex.Behaviors, m.behaviorWidth))
	longTerm := m.head.Forward(m.udfc.Forward(sequence))
	shortSequence := nn.Concat(1, m.mfc.Forward(matrix(ex.Playlist[1:], m.songWidth)), matrix(ex.Behaviors[1:], m.behaviorWidth))
	shortTerm := m.head.Forward(m.udfc.Forward(shortSequence))
	preference := nn.Add(m.usfc.Forward(user), longTerm, shortTerm)
	for i, candidate := range ex.Candidates {
		song := m.mfc.Forward(nn.NewTensor(candidate, 1, len(candidate)))
		score := m.rc.Forward(nn.Concat(1, preference, song))
		assert.InDelta(t, score.Data()[0], scores.Get(0, i), epsilon)
	}
}

func TestDTNMR_EmptyPlaylist(t *testing.T) {
	sampler := newTestSampler(t, SamplerConfig{SubsetSize: 3, LongTermLength: 3})
	m := newTestModel(sampler, nil)
	ex, err := sampler.Sample(dataset.Point{UserId: "u1", SongId: "s1"}, base.NewRandomGenerator(0))
	require.NoError(t, err)
	require.Empty(t, ex.Playlist)
	scores := m.Predict(ex)
	assert.Len(t, scores, 3)

	// the dynamic embedding is zero
	preference := m.usfc.Forward(nn.NewTensor(ex.User, 1, len(ex.User)))
	for i, candidate := range ex.Candidates {
		song := m.mfc.Forward(nn.NewTensor(candidate, 1, len(candidate)))
		score := m.rc.Forward(nn.Concat(1, preference, song))
		assert.InDelta(t, score.Data()[0], scores[i], epsilon)
	}
}

func TestDTNMR_ShortPlaylist(t *testing.T) {
	sampler := newTestSampler(t, SamplerConfig{SubsetSize: 3, LongTermLength: 3})
	m := newTestModel(sampler, model.Params{model.ShortTermLength: 5})
	// a single step is shorter than both windows
	ex, err := sampler.Sample(dataset.Point{UserId: "u3", SongId: "s1"}, base.NewRandomGenerator(0))
	require.NoError(t, err)
	require.Len(t, ex.Playlist, 1)
	scores := m.Predict(ex)
	assert.Len(t, scores, 3)
	for _, score := range scores {
		assert.False(t, math32.IsNaN(score))
	}
}

func TestDTNMR_Predict(t *testing.T) {
	sampler := newTestSampler(t, SamplerConfig{SubsetSize: 4, LongTermLength: 3})
	m := newTestModel(sampler, model.Params{model.Dropout: 0.5})
	ex, err := sampler.Sample(dataset.Point{UserId: "u1", SongId: "s5"}, base.NewRandomGenerator(0))
	require.NoError(t, err)
	// no dropout in evaluation mode
	assert.Equal(t, m.Predict(ex), m.Predict(ex))
}

func TestDTNMR_Recommend(t *testing.T) {
	sampler := newTestSampler(t, SamplerConfig{SubsetSize: 4, LongTermLength: 3})
	m := newTestModel(sampler, nil)
	ex, err := sampler.Context("u1", newTestCatalog().SongIds())
	require.NoError(t, err)
	scores := m.Predict(ex)
	recommended := m.Recommend(ex, 3)
	require.Len(t, recommended, 3)
	for i := 1; i < len(recommended); i++ {
		assert.GreaterOrEqual(t, recommended[i-1].Weight, recommended[i].Weight)
	}
	for _, elem := range recommended {
		assert.Equal(t, scores[argIndex(ex.CandidateIds, elem.Value)], elem.Weight)
	}
	assert.Len(t, m.Recommend(ex, 100), 8)
}

func argIndex(ids []string, id string) int {
	for i := range ids {
		if ids[i] == id {
			return i
		}
	}
	return -1
}

func TestDTNMR_Marshal(t *testing.T) {
	sampler := newTestSampler(t, SamplerConfig{SubsetSize: 4, LongTermLength: 3})
	m := newTestModel(sampler, model.Params{model.RandomState: 7, model.Optimizer: "adam"})
	buf := bytes.NewBuffer(nil)
	require.NoError(t, m.Marshal(buf))
	restored := new(DTNMR)
	assert.True(t, restored.Invalid())
	require.NoError(t, restored.Unmarshal(buf))
	assert.False(t, restored.Invalid())
	assert.Equal(t, m.GetParams(), restored.GetParams())
	for _, point := range sampler.Points() {
		ex, err := sampler.Sample(point, base.NewRandomGenerator(0))
		require.NoError(t, err)
		assertAllClose(t, m.Predict(ex), restored.Predict(ex))
	}

	// truncated stream
	buf = bytes.NewBuffer(nil)
	require.NoError(t, m.Marshal(buf))
	truncated := bytes.NewBuffer(buf.Bytes()[:buf.Len()/2])
	assert.Error(t, new(DTNMR).Unmarshal(truncated))
}

func TestDTNMR_Fit(t *testing.T) {
	sampler := newTestSampler(t, SamplerConfig{SubsetSize: 3, LongTermLength: 3})
	m := newTestModel(sampler, model.Params{
		model.Lr:        0.01,
		model.NEpochs:   30,
		model.BatchSize: 4,
		model.Optimizer: "adam",
	})
	before, err := Evaluate(context.Background(), m, sampler, 1, base.NewRandomGenerator(0))
	require.NoError(t, err)
	score, err := m.Fit(context.Background(), sampler, sampler, NewFitConfig().SetJobs(2).SetVerbose(10))
	require.NoError(t, err)
	after, err := Evaluate(context.Background(), m, sampler, 1, base.NewRandomGenerator(0))
	require.NoError(t, err)
	assert.Less(t, after.Loss, before.Loss)
	assert.GreaterOrEqual(t, score.Accuracy, float32(0))
	assert.LessOrEqual(t, score.Accuracy, float32(1))
	assert.False(t, math32.IsNaN(score.Loss))

	assert.Equal(t, float64(30), testutil.ToFloat64(FitEpoch))
	assert.Equal(t, float64(score.Loss), testutil.ToFloat64(LossVec.WithLabelValues(SplitTest)))
}

func TestDTNMR_FitPatience(t *testing.T) {
	// Every catalog song is a candidate and weights stay fixed, so accuracy never improves.
	sampler := newTestSampler(t, SamplerConfig{SubsetSize: 9, LongTermLength: 3})
	m := newTestModel(sampler, model.Params{
		model.Lr:        0,
		model.NEpochs:   20,
		model.BatchSize: 4,
	})
	_, err := m.Fit(context.Background(), sampler, sampler, NewFitConfig().SetVerbose(2).SetPatience(2))
	require.NoError(t, err)
	// evaluated at epochs 2, 4 and 6, the best is the first one
	assert.Equal(t, float64(6), testutil.ToFloat64(FitEpoch))
}

func TestDTNMR_FitInit(t *testing.T) {
	sampler := newTestSampler(t, SamplerConfig{SubsetSize: 3, LongTermLength: 3})
	m := NewDTNMR(model.Params{model.EmbeddingSize: 4, model.HiddenLayers: []int{4}, model.RecurrentHidden: 4, model.NEpochs: 1})
	assert.True(t, m.Invalid())
	_, err := m.Fit(context.Background(), sampler, sampler, nil)
	require.NoError(t, err)
	assert.False(t, m.Invalid())
	m.Clear()
	assert.True(t, m.Invalid())
}

func TestDTNMR_FitError(t *testing.T) {
	sampler := newTestSampler(t, SamplerConfig{SubsetSize: 3, LongTermLength: 3})

	// unknown optimizer
	m := newTestModel(sampler, model.Params{model.Optimizer: "rmsprop"})
	_, err := m.Fit(context.Background(), sampler, sampler, nil)
	assert.True(t, errors.Is(err, errors.NotSupported))

	// inconsistent split
	catalog := newTestCatalog()
	split := newTestSplit()
	split.Points = append(split.Points, dataset.Point{UserId: "u3", SongId: "s8"})
	broken, err := NewSampler(catalog, split, sampler.Encoders(), sampler.Config())
	require.NoError(t, err)
	m = newTestModel(sampler, nil)
	_, err = m.Fit(context.Background(), broken, sampler, nil)
	assert.True(t, errors.Is(err, ErrLabelNotInPlaylist))

	// canceled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Fit(ctx, sampler, sampler, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}
