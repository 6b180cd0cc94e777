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
	"context"
	"fmt"
	"time"

	"github.com/chewxy/math32"
	"github.com/gorse-io/nextsong/base"
	"github.com/gorse-io/nextsong/base/log"
	"github.com/gorse-io/nextsong/base/progress"
	"github.com/gorse-io/nextsong/common/nn"
	"github.com/gorse-io/nextsong/common/parallel"
	"github.com/gorse-io/nextsong/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"modernc.org/mathutil"
)

// FitSpan names the progress span reported by Fit.
const FitSpan = "DTNMR.Fit"

type Score struct {
	Loss     float32
	Accuracy float32
}

func (score Score) ZapFields() []zap.Field {
	return []zap.Field{
		zap.Float32("loss", score.Loss),
		zap.Float32("accuracy", score.Accuracy),
	}
}

func (score Score) BetterThan(s Score) bool {
	return score.Accuracy > s.Accuracy
}

type FitConfig struct {
	Jobs     int
	Verbose  int
	Patience int
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Jobs:     1,
		Verbose:  1,
		Patience: 0,
	}
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

func (config *FitConfig) SetPatience(patience int) *FitConfig {
	config.Patience = patience
	return config
}

func (config *FitConfig) LoadDefaultIfNil() *FitConfig {
	if config == nil {
		return NewFitConfig()
	}
	return config
}

// Fit trains the model on the points of the training split and evaluates it on the points of the
// test split. Examples of a batch are built in parallel, then the batch is scored and the weights
// are updated on the calling goroutine.
func (m *DTNMR) Fit(ctx context.Context, trainSet, testSet *Sampler, config *FitConfig) (Score, error) {
	config = config.LoadDefaultIfNil()
	log.Logger().Info("fit DTNMR",
		zap.Int("train_set_size", len(trainSet.Points())),
		zap.Int("test_set_size", len(testSet.Points())),
		zap.Any("params", m.GetParams()),
		zap.Any("config", config))
	if m.Invalid() {
		m.InitFromEncoders(trainSet.Encoders())
	}
	optimizer, err := nn.NewOptimizer(m.optimizer, m.Parameters(), m.lr)
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	rngs := m.GetRandomGenerator().Derive(mathutil.Max(config.Jobs, 1))

	points := trainSet.Points()
	_, span := progress.Start(ctx, FitSpan, m.nEpochs*len(points))
	var (
		score  Score
		scores []lo.Tuple2[int, float32]
	)
	for epoch := 1; epoch <= m.nEpochs; epoch++ {
		FitEpoch.Set(float64(epoch))
		fitStart := time.Now()
		perm := m.GetRandomGenerator().Perm(len(points))
		var loss, correct float32
		for i := 0; i < len(perm); i += m.batchSize {
			batch := lo.Map(perm[i:mathutil.Min(i+m.batchSize, len(perm))], func(j, _ int) dataset.Point { return points[j] })
			examples, err := sampleBatch(ctx, trainSet, batch, rngs, config.Jobs)
			if err != nil {
				span.Fail(err)
				return score, errors.Trace(err)
			}
			batchLoss, batchCorrect := m.step(optimizer, examples)
			loss += batchLoss * float32(len(examples))
			correct += batchCorrect
			ExamplesTotal.Add(float64(len(examples)))
			span.Add(len(examples))
		}
		fitTime := time.Since(fitStart)
		FitSeconds.Set(fitTime.Seconds())
		trainScore := Score{}
		if len(points) > 0 {
			trainScore = Score{Loss: loss / float32(len(points)), Accuracy: correct / float32(len(points))}
		}
		LossVec.WithLabelValues(SplitTrain).Set(float64(trainScore.Loss))
		AccuracyVec.WithLabelValues(SplitTrain).Set(float64(trainScore.Accuracy))

		// Cross validation
		if (config.Verbose > 0 && epoch%config.Verbose == 0) || epoch == m.nEpochs {
			evalStart := time.Now()
			score, err = Evaluate(ctx, m, testSet, config.Jobs, rngs[0])
			if err != nil {
				span.Fail(err)
				return score, errors.Trace(err)
			}
			evalTime := time.Since(evalStart)
			LossVec.WithLabelValues(SplitTest).Set(float64(score.Loss))
			AccuracyVec.WithLabelValues(SplitTest).Set(float64(score.Accuracy))
			scores = append(scores, lo.Tuple2[int, float32]{A: epoch, B: score.Accuracy})
			fields := append([]zap.Field{
				zap.String("fit_time", fitTime.String()),
				zap.String("eval_time", evalTime.String()),
				zap.Float32("train_loss", trainScore.Loss),
				zap.Float32("train_accuracy", trainScore.Accuracy),
			}, score.ZapFields()...)
			log.Logger().Info(fmt.Sprintf("fit DTNMR %v/%v", epoch, m.nEpochs), fields...)
			// check NaN
			if math32.IsNaN(trainScore.Loss) || math32.IsNaN(score.Loss) {
				log.Logger().Warn("model diverged", zap.Float32("lr", m.lr))
				break
			}
			// stop after Patience evaluations without improvement
			if config.Patience > 0 && len(scores) > config.Patience {
				best := lo.MaxBy(lo.Range(len(scores)), func(a, b int) bool { return scores[a].B > scores[b].B })
				if best < len(scores)-config.Patience {
					log.Logger().Info("early stopping",
						zap.Int("best_epoch", scores[best].A),
						zap.Float32("best_accuracy", scores[best].B),
						zap.Int("patience", config.Patience))
					break
				}
			}
		}
	}
	span.End()
	return score, nil
}

// step runs one optimizer step on a batch and returns the mean loss and the number of examples
// ranking the label first.
func (m *DTNMR) step(optimizer nn.Optimizer, examples []*Example) (float32, float32) {
	scores := lo.Map(examples, func(ex *Example, _ int) *nn.Tensor { return m.Forward(ex) })
	loss := nn.SoftmaxCrossEntropy(nn.Concat(0, scores...), labels(len(examples)))
	optimizer.ZeroGrad()
	loss.Backward()
	optimizer.Step()
	var correct float32
	for _, s := range scores {
		if argmax(s.Data()) == LabelIndex {
			correct++
		}
	}
	return loss.Data()[0], correct
}

// Evaluate returns the mean cross entropy over the points of a split and the share of points
// whose label is ranked first, in evaluation mode.
func Evaluate(ctx context.Context, m *DTNMR, sampler *Sampler, jobs int, rng base.RandomGenerator) (Score, error) {
	points := sampler.Points()
	if len(points) == 0 {
		return Score{}, nil
	}
	m.setTraining(false)
	defer m.setTraining(true)
	jobs = mathutil.Max(jobs, 1)
	rngs := rng.Derive(jobs)
	losses := make([]float32, len(points))
	hits := make([]float32, len(points))
	err := parallel.Parallel(ctx, len(points), jobs, func(workerId, jobId int) error {
		ex, err := sampler.Sample(points[jobId], rngs[workerId])
		if err != nil {
			return errors.Trace(err)
		}
		scores := m.Forward(ex)
		losses[jobId] = nn.SoftmaxCrossEntropy(scores, labels(1)).Data()[0]
		if argmax(scores.Data()) == LabelIndex {
			hits[jobId] = 1
		}
		return nil
	})
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	return Score{
		Loss:     lo.Sum(losses) / float32(len(points)),
		Accuracy: lo.Sum(hits) / float32(len(points)),
	}, nil
}

// sampleBatch builds the examples of points in parallel. Each worker draws from its own generator.
func sampleBatch(ctx context.Context, sampler *Sampler, points []dataset.Point, rngs []base.RandomGenerator, jobs int) ([]*Example, error) {
	examples := make([]*Example, len(points))
	err := parallel.Parallel(ctx, len(points), mathutil.Min(mathutil.Max(jobs, 1), len(rngs)), func(workerId, jobId int) error {
		var err error
		examples[jobId], err = sampler.Sample(points[jobId], rngs[workerId])
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return examples, nil
}

// labels returns the target class of n examples.
func labels(n int) *nn.Tensor {
	return nn.NewTensor(lo.Times(n, func(_ int) float32 { return LabelIndex }), n)
}

func argmax(scores []float32) int {
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return best
}
