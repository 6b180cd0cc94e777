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

	"github.com/gorse-io/nextsong/base"
	"github.com/gorse-io/nextsong/dataset"
	"github.com/gorse-io/nextsong/feature"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// LabelIndex is the position of the true label among the candidates of an example.
const LabelIndex = 0

var ErrLabelNotInPlaylist = errors.NotFoundf("label in playlist")

// Encoders are the vocabularies a model is trained with.
type Encoders struct {
	Song     *feature.SongEncoder
	User     *feature.UserEncoder
	Behavior *feature.BehaviorEncoder
}

// NewEncoders builds encoders from the catalog and the behavior labels of the training split.
func NewEncoders(catalog *dataset.Catalog, behaviors []string) (*Encoders, error) {
	songs, err := feature.NewSongEncoder(catalog.Songs)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Encoders{
		Song:     songs,
		User:     feature.NewUserEncoder(catalog.Users, songs),
		Behavior: feature.NewBehaviorEncoder(behaviors),
	}, nil
}

func (e *Encoders) Marshal(w io.Writer) error {
	if err := e.Song.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	if err := e.User.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.Behavior.Marshal(w))
}

func (e *Encoders) Unmarshal(r io.Reader) error {
	e.Song, e.User, e.Behavior = &feature.SongEncoder{}, &feature.UserEncoder{}, &feature.BehaviorEncoder{}
	if err := e.Song.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	if err := e.User.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.Behavior.Unmarshal(r))
}

// Example is the encoded input of the model for one user. Playlist and Behaviors hold the most
// recent steps of the playlist prefix, oldest first.
type Example struct {
	User         []float32
	Playlist     [][]float32
	Behaviors    [][]float32
	Candidates   [][]float32
	CandidateIds []string
}

type SamplerConfig struct {
	SubsetSize     int // number of candidates: the label and SubsetSize-1 negatives
	LongTermLength int // number of steps kept from the playlist prefix
}

// Sampler builds examples from a split. It holds no mutable state and is safe for concurrent use.
type Sampler struct {
	catalog  *dataset.Catalog
	split    *dataset.Dataset
	encoders *Encoders
	config   SamplerConfig
	songIds  []string
}

func NewSampler(catalog *dataset.Catalog, split *dataset.Dataset, encoders *Encoders, config SamplerConfig) (*Sampler, error) {
	if config.SubsetSize < 1 {
		return nil, errors.NotValidf("subset size %d", config.SubsetSize)
	}
	if config.LongTermLength < 1 {
		return nil, errors.NotValidf("long-term length %d", config.LongTermLength)
	}
	if config.SubsetSize-1 > catalog.CountSongs() {
		return nil, errors.NotValidf("subset size %d with %d songs", config.SubsetSize, catalog.CountSongs())
	}
	return &Sampler{
		catalog:  catalog,
		split:    split,
		encoders: encoders,
		config:   config,
		songIds:  catalog.SongIds(),
	}, nil
}

func (s *Sampler) Encoders() *Encoders {
	return s.encoders
}

// Points returns the points of the split.
func (s *Sampler) Points() []dataset.Point {
	return s.split.Points
}

func (s *Sampler) Config() SamplerConfig {
	return s.config
}

// EncodeSongs encodes songs by id.
func (s *Sampler) EncodeSongs(songIds []string) ([][]float32, error) {
	vectors := make([][]float32, len(songIds))
	for i, songId := range songIds {
		song, err := s.catalog.GetSong(songId)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if vectors[i], err = s.encoders.Song.Encode(song); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return vectors, nil
}

// Sample builds the example of a point. The context is the playlist of the user before the first
// occurrence of the label. Candidates are the label followed by songs drawn uniformly without
// replacement from the catalog.
func (s *Sampler) Sample(point dataset.Point, rng base.RandomGenerator) (*Example, error) {
	playlist, ok := s.split.GetPlaylist(point.UserId)
	if !ok {
		return nil, errors.Annotatef(ErrLabelNotInPlaylist, "user %s has no playlist", point.UserId)
	}
	end := lo.IndexOf(lo.Map(playlist, func(listen dataset.Listen, _ int) string { return listen.SongId }), point.SongId)
	if end < 0 {
		return nil, errors.Annotatef(ErrLabelNotInPlaylist, "song %s of user %s", point.SongId, point.UserId)
	}
	ex, err := s.encodeContext(point.UserId, playlist[:end])
	if err != nil {
		return nil, errors.Trace(err)
	}
	// candidates
	ex.CandidateIds = make([]string, 0, s.config.SubsetSize)
	ex.CandidateIds = append(ex.CandidateIds, point.SongId)
	for _, i := range rng.Sample(0, len(s.songIds), s.config.SubsetSize-1) {
		ex.CandidateIds = append(ex.CandidateIds, s.songIds[i])
	}
	if ex.Candidates, err = s.EncodeSongs(ex.CandidateIds); err != nil {
		return nil, errors.Trace(err)
	}
	return ex, nil
}

// Context builds the example of a user from the whole playlist, to score the given candidates.
// A user without playlist has an empty context.
func (s *Sampler) Context(userId string, candidateIds []string) (*Example, error) {
	playlist, _ := s.split.GetPlaylist(userId)
	ex, err := s.encodeContext(userId, playlist)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ex.CandidateIds = candidateIds
	if ex.Candidates, err = s.EncodeSongs(candidateIds); err != nil {
		return nil, errors.Trace(err)
	}
	return ex, nil
}

func (s *Sampler) encodeContext(userId string, prefix []dataset.Listen) (*Example, error) {
	user, err := s.catalog.GetUser(userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	songs, err := s.EncodeSongs(lo.Map(prefix, func(listen dataset.Listen, _ int) string { return listen.SongId }))
	if err != nil {
		return nil, errors.Trace(err)
	}
	behaviors := lo.Map(prefix, func(listen dataset.Listen, _ int) []float32 {
		return s.encoders.Behavior.Encode(listen.Behavior)
	})
	ex := &Example{}
	// the signature covers the whole prefix
	if ex.User, err = s.encoders.User.Encode(user, songs); err != nil {
		return nil, errors.Trace(err)
	}
	start := max(0, len(prefix)-s.config.LongTermLength)
	ex.Playlist = songs[start:]
	ex.Behaviors = behaviors[start:]
	return ex, nil
}
