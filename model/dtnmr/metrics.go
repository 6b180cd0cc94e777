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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelSplit = "split"
	SplitTrain = "train"
	SplitTest  = "test"
)

var (
	FitEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nextsong",
		Subsystem: "dtnmr",
		Name:      "fit_epoch",
	})
	FitSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nextsong",
		Subsystem: "dtnmr",
		Name:      "fit_epoch_seconds",
	})
	LossVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nextsong",
		Subsystem: "dtnmr",
		Name:      "loss",
	}, []string{LabelSplit})
	AccuracyVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nextsong",
		Subsystem: "dtnmr",
		Name:      "accuracy",
	}, []string{LabelSplit})
	ExamplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nextsong",
		Subsystem: "dtnmr",
		Name:      "examples_total",
	})
)
