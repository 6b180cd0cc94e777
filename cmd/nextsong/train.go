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

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorse-io/nextsong/base/log"
	"github.com/gorse-io/nextsong/base/progress"
	"github.com/gorse-io/nextsong/model/dtnmr"
	"github.com/gorse-io/nextsong/pipeline"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Fit a DTNMR model on the preprocessed splits",
	Run: func(cmd *cobra.Command, args []string) {
		conf, store := setup(cmd)
		data, err := pipeline.LoadData(store)
		if err != nil {
			log.Logger().Fatal("failed to load preprocessed data", zap.Error(err))
		}

		// serve metrics
		if address, _ := cmd.Flags().GetString("metrics-address"); address != "" {
			server := newMetricsServer(address)
			go func() {
				log.Logger().Info("start metrics server", zap.String("address", address))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Logger().Error("failed to serve metrics", zap.Error(err))
				}
			}()
			defer func() { _ = server.Close() }()
		}

		// fit model
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		tracer := progress.NewTracer("nextsong")
		ctx, span := tracer.Start(ctx, "train", 1)
		done := make(chan struct{})
		go showProgress(tracer, dtnmr.FitSpan, done)
		checkpoint, err := pipeline.Train(ctx, conf, data)
		close(done)
		if err != nil {
			span.Fail(err)
			log.Logger().Fatal("failed to train", zap.Error(err))
		}
		span.End()
		if err = pipeline.SaveCheckpoint(store, checkpoint); err != nil {
			log.Logger().Fatal("failed to save model", zap.Error(err))
		}
	},
}

func init() {
	trainCommand.Flags().String("metrics-address", "", "address serving Prometheus metrics while training, e.g. :8088")
	rootCommand.AddCommand(trainCommand)
}

// newMetricsServer serves Prometheus metrics on /metrics.
func newMetricsServer(address string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: address, Handler: mux}
}

// showProgress mirrors a span of the tracer in a progress bar until done is closed.
func showProgress(tracer *progress.Tracer, name string, done <-chan struct{}) {
	bar := progressbar.Default(-1, "training")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			_ = bar.Finish()
			return
		case <-ticker.C:
			for _, p := range tracer.List() {
				if p.Name == name {
					bar.ChangeMax(p.Total)
					_ = bar.Set(p.Count)
				}
			}
		}
	}
}
