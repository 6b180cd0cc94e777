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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorse-io/nextsong/base/encoding"
	"github.com/gorse-io/nextsong/config"
	"github.com/gorse-io/nextsong/dataset"
	"github.com/gorse-io/nextsong/storage/blob"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFiles = map[string]string{
	TrainFile: `msno,song_id,source_system_tab,target
u1,s1,my library,1
u1,s2,discover,1
u1,s3,search,0
u1,s4,radio,1
u2,s2,discover,1
u2,s3,my library,1
u2,s1,null,0
u3,s4,radio,1
u3,s1,settings,1
u9,s1,discover,1
`,
	TestFile: `id,msno,song_id,source_system_tab
0,u1,s2,search
1,u1,s4,my library
2,u2,s1,discover
3,u2,s3,radio
4,u3,s3,radio
`,
	SongsFile: `song_id,song_length,genre_ids,artist_name,composer,lyricist,language
s1,240000,465,Queen,Freddie Mercury,,52
s2,200000,465|958,Adele,,,52
s3,180000,2022,Muse,,,52
s4,210000,1609,Coldplay,Chris Martin,,-1
s5,180000,1609,Nobody,,,3
`,
	MembersFile: `msno,city,bd,gender,registered_via,registration_init_time,expiration_date
u1,1,27,female,7,20110820,20170920
u2,13,35,,9,20150628,20170622
u3,5,33,male,4,20160317,20170926
`,
}

func openTestFile(name string) (io.ReadCloser, error) {
	content, ok := testFiles[name]
	if !ok {
		return nil, errors.NotFoundf("file %s", name)
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func newTestConfig() *config.Config {
	conf := config.GetDefaultConfig()
	conf.Data.TopRatio = 0
	conf.Data.MinPlaylistLength = 1
	conf.Data.MaxPlaylistLength = 10
	conf.Model.EmbeddingSize = 4
	conf.Model.HiddenLayers = []int{8}
	conf.Model.RecurrentLayers = 1
	conf.Model.RecurrentHidden = 8
	conf.Model.SubsetSize = 3
	conf.Model.LongTermLength = 3
	conf.Model.ShortTermLength = 2
	conf.Train.NEpochs = 2
	conf.Train.BatchSize = 2
	conf.Train.Lr = 0.01
	conf.Train.Optimizer = "adam"
	return conf
}

func TestPreprocess(t *testing.T) {
	conf := newTestConfig()
	data, err := Preprocess(openTestFile, conf.Data.Options())
	require.NoError(t, err)

	// s5 is never played
	assert.Equal(t, []string{"s1", "s2", "s3", "s4"}, data.Catalog.SongIds())
	assert.Equal(t, 3, data.Catalog.CountUsers())
	assert.Equal(t, 3, data.Train.CountUsers())
	assert.Equal(t, []dataset.Point{
		{UserId: "u1", SongId: "s2"},
		{UserId: "u1", SongId: "s3"},
		{UserId: "u1", SongId: "s4"},
		{UserId: "u2", SongId: "s3"},
		{UserId: "u2", SongId: "s1"},
		{UserId: "u3", SongId: "s1"},
	}, data.Train.Points)
	assert.Equal(t, 3, data.Test.CountUsers())
	assert.Equal(t, []dataset.Point{
		{UserId: "u1", SongId: "s4"},
		{UserId: "u2", SongId: "s3"},
	}, data.Test.Points)

	// save and load
	store := blob.NewPOSIX(t.TempDir())
	require.NoError(t, data.Save(store))
	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{blob.CatalogName, blob.TestName, blob.TrainName}, names)
	loaded, err := LoadData(store)
	require.NoError(t, err)
	assert.Equal(t, data.Catalog.SongIds(), loaded.Catalog.SongIds())
	assert.Equal(t, data.Train.Points, loaded.Train.Points)
	assert.Equal(t, data.Test.Playlists, loaded.Test.Playlists)
	assert.Equal(t, data.Train.Behaviors, loaded.Train.Behaviors)

	// split by name
	split, err := loaded.Split("test")
	assert.NoError(t, err)
	assert.Equal(t, loaded.Test, split)
	_, err = loaded.Split("valid")
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestPreprocess_MissingFile(t *testing.T) {
	_, err := Preprocess(func(name string) (io.ReadCloser, error) {
		if name == MembersFile {
			return nil, errors.NotFoundf("file %s", name)
		}
		return openTestFile(name)
	}, dataset.DefaultOptions())
	assert.True(t, errors.Is(err, errors.NotFound))

	_, err = LoadData(blob.NewPOSIX(t.TempDir()))
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestInspect(t *testing.T) {
	conf := newTestConfig()
	data, err := Preprocess(openTestFile, conf.Data.Options())
	require.NoError(t, err)
	summary, err := Inspect(data)
	require.NoError(t, err)
	// length, 4 genres, 4 artists, 2 composers, 2 languages
	assert.Equal(t, 13, summary.SongWidth)
	// discover, my library, radio and search
	assert.Equal(t, 4, summary.BehaviorWidth)
	assert.Equal(t, 4, summary.NumSongs)
	assert.Equal(t, 3, summary.NumUsers)
	assert.Equal(t, 6, summary.TrainPoints)
	assert.Equal(t, 2, summary.TestPoints)
	assert.Equal(t, 3, summary.TestUsers)
}

func TestTrain(t *testing.T) {
	conf := newTestConfig()
	data, err := Preprocess(openTestFile, conf.Data.Options())
	require.NoError(t, err)
	checkpoint, err := Train(context.Background(), conf, data)
	require.NoError(t, err)
	assert.False(t, checkpoint.Model.Invalid())
	assert.GreaterOrEqual(t, checkpoint.Score.Accuracy, float32(0))
	assert.LessOrEqual(t, checkpoint.Score.Accuracy, float32(1))

	// recommend
	recommends, err := Recommend(checkpoint, data, data.Test, "u1", 2, conf.SamplerConfig())
	require.NoError(t, err)
	assert.Len(t, recommends, 2)
	assert.GreaterOrEqual(t, recommends[0].Weight, recommends[1].Weight)
	assert.Subset(t, data.Catalog.SongIds(), []string{recommends[0].Value, recommends[1].Value})
	_, err = Recommend(checkpoint, data, data.Test, "u9", 2, conf.SamplerConfig())
	assert.True(t, errors.Is(err, errors.NotFound))

	// save and load
	store := blob.NewPOSIX(t.TempDir())
	require.NoError(t, SaveCheckpoint(store, checkpoint))
	loaded, err := LoadCheckpoint(store)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.Version, loaded.Version)
	assert.Equal(t, checkpoint.Score, loaded.Score)
	assert.Equal(t, checkpoint.Model.GetParams(), loaded.Model.GetParams())
	loadedRecommends, err := Recommend(loaded, data, data.Test, "u1", 2, conf.SamplerConfig())
	require.NoError(t, err)
	assert.Equal(t, recommends, loadedRecommends)
}

func TestLoadCheckpoint_Format(t *testing.T) {
	dir := t.TempDir()
	store := blob.NewPOSIX(dir)
	require.NoError(t, blob.Save(store, blob.ModelName, func(w io.Writer) error {
		return encoding.WriteString(w, "dtnmr/v0")
	}))
	_, err := LoadCheckpoint(store)
	assert.True(t, errors.Is(err, errors.NotValid))

	// truncated
	require.NoError(t, os.WriteFile(filepath.Join(dir, blob.ModelName), nil, 0644))
	_, err = LoadCheckpoint(store)
	assert.Error(t, err)
}
