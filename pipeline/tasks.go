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

package pipeline

import (
	"context"
	"io"

	"github.com/gorse-io/nextsong/base/log"
	"github.com/gorse-io/nextsong/cmd/version"
	"github.com/gorse-io/nextsong/common/heap"
	"github.com/gorse-io/nextsong/config"
	"github.com/gorse-io/nextsong/dataset"
	"github.com/gorse-io/nextsong/model/dtnmr"
	"github.com/gorse-io/nextsong/storage/blob"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// KKBOX csv files read by preprocessing.
const (
	TrainFile   = "train.csv"
	TestFile    = "test.csv"
	SongsFile   = "songs.csv"
	MembersFile = "members.csv"
)

// Opener opens a source file by name.
type Opener func(name string) (io.ReadCloser, error)

// Data is the output of preprocessing.
type Data struct {
	Catalog *dataset.Catalog
	Train   *dataset.Dataset
	Test    *dataset.Dataset
}

func readFile[T any](open Opener, name string, read func(r io.Reader) (T, error)) (T, error) {
	var zero T
	r, err := open(name)
	if err != nil {
		return zero, errors.Trace(err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Logger().Warn("failed to close file", zap.String("name", name), zap.Error(err))
		}
	}()
	v, err := read(r)
	if err != nil {
		return zero, errors.Annotatef(err, "failed to read %s", name)
	}
	return v, nil
}

// Preprocess filters the KKBOX tables and builds the train and test splits. Popularity is counted
// on the training interactions only.
func Preprocess(open Opener, opts dataset.Options) (*Data, error) {
	trainInteractions, err := readFile(open, TrainFile, dataset.LoadInteractions)
	if err != nil {
		return nil, errors.Trace(err)
	}
	testInteractions, err := readFile(open, TestFile, dataset.LoadInteractions)
	if err != nil {
		return nil, errors.Trace(err)
	}
	popularity := dataset.CountPopularity(trainInteractions)
	songs, err := readFile(open, SongsFile, func(r io.Reader) ([]*dataset.Song, error) {
		return dataset.LoadSongs(r, popularity, opts)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	users, err := readFile(open, MembersFile, func(r io.Reader) ([]*dataset.User, error) {
		return dataset.LoadUsers(r, opts)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	catalog := dataset.NewCatalog(songs, users)
	data := &Data{
		Catalog: catalog,
		Train:   dataset.BuildDataset(trainInteractions, catalog, opts),
		Test:    dataset.BuildDataset(testInteractions, catalog, opts),
	}
	log.Logger().Info("preprocess complete",
		zap.Int("n_songs", catalog.CountSongs()),
		zap.Int("n_users", catalog.CountUsers()),
		zap.Int("n_train_users", data.Train.CountUsers()),
		zap.Int("n_train_points", data.Train.CountPoints()),
		zap.Int("n_test_users", data.Test.CountUsers()),
		zap.Int("n_test_points", data.Test.CountPoints()))
	return data, nil
}

func (d *Data) Save(store blob.Store) error {
	if err := blob.Save(store, blob.CatalogName, d.Catalog.Marshal); err != nil {
		return errors.Trace(err)
	}
	if err := blob.Save(store, blob.TrainName, d.Train.Marshal); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(blob.Save(store, blob.TestName, d.Test.Marshal))
}

func LoadData(store blob.Store) (*Data, error) {
	d := &Data{Catalog: &dataset.Catalog{}, Train: &dataset.Dataset{}, Test: &dataset.Dataset{}}
	if err := blob.Load(store, blob.CatalogName, d.Catalog.Unmarshal); err != nil {
		return nil, errors.Trace(err)
	}
	if err := blob.Load(store, blob.TrainName, d.Train.Unmarshal); err != nil {
		return nil, errors.Trace(err)
	}
	if err := blob.Load(store, blob.TestName, d.Test.Unmarshal); err != nil {
		return nil, errors.Trace(err)
	}
	return d, nil
}

// Split returns the train or test split by name.
func (d *Data) Split(name string) (*dataset.Dataset, error) {
	switch name {
	case "train":
		return d.Train, nil
	case "test":
		return d.Test, nil
	default:
		return nil, errors.NotValidf("split %q", name)
	}
}

// Train fits a DTNMR model on the train split and scores it on the test split.
func Train(ctx context.Context, conf *config.Config, data *Data) (*Checkpoint, error) {
	encoders, err := dtnmr.NewEncoders(data.Catalog, data.Train.Behaviors)
	if err != nil {
		return nil, errors.Trace(err)
	}
	trainSet, err := dtnmr.NewSampler(data.Catalog, data.Train, encoders, conf.SamplerConfig())
	if err != nil {
		return nil, errors.Trace(err)
	}
	testSet, err := dtnmr.NewSampler(data.Catalog, data.Test, encoders, conf.SamplerConfig())
	if err != nil {
		return nil, errors.Trace(err)
	}
	m := dtnmr.NewDTNMR(conf.ModelParams())
	log.Logger().Info("prepare to fit DTNMR",
		zap.Int("n_jobs", conf.Train.Jobs),
		zap.Int("user_width", encoders.User.Len()),
		zap.Int("song_width", encoders.Song.Len()),
		zap.Int("behavior_width", encoders.Behavior.Len()))
	score, err := m.Fit(ctx, trainSet, testSet, conf.FitConfig())
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("fit DTNMR complete", score.ZapFields()...)
	return &Checkpoint{
		Version:  version.Version,
		Score:    score,
		Encoders: encoders,
		Model:    m,
	}, nil
}

// Recommend ranks every song of the catalog for a user, given the user's whole playlist in the
// split.
func Recommend(c *Checkpoint, data *Data, split *dataset.Dataset, userId string, n int, conf dtnmr.SamplerConfig) ([]heap.Elem[string, float32], error) {
	sampler, err := dtnmr.NewSampler(data.Catalog, split, c.Encoders, conf)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ex, err := sampler.Context(userId, data.Catalog.SongIds())
	if err != nil {
		return nil, errors.Trace(err)
	}
	return c.Model.Recommend(ex, n), nil
}

// Summary describes the encoders and the splits.
type Summary struct {
	SongWidth     int
	UserWidth     int
	BehaviorWidth int
	NumSongs      int
	NumUsers      int
	TrainUsers    int
	TrainPoints   int
	TestUsers     int
	TestPoints    int
}

func Inspect(data *Data) (Summary, error) {
	encoders, err := dtnmr.NewEncoders(data.Catalog, data.Train.Behaviors)
	if err != nil {
		return Summary{}, errors.Trace(err)
	}
	return Summary{
		SongWidth:     encoders.Song.Len(),
		UserWidth:     encoders.User.Len(),
		BehaviorWidth: encoders.Behavior.Len(),
		NumSongs:      data.Catalog.CountSongs(),
		NumUsers:      data.Catalog.CountUsers(),
		TrainUsers:    data.Train.CountUsers(),
		TrainPoints:   data.Train.CountPoints(),
		TestUsers:     data.Test.CountUsers(),
		TestPoints:    data.Test.CountPoints(),
	}, nil
}
