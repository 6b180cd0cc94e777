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

package feature

import (
	"io"

	"github.com/gorse-io/nextsong/base/encoding"
	"github.com/gorse-io/nextsong/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// SongEncoder encodes the length, genres, artists, composers and languages of a song.
type SongEncoder struct {
	length    *LinearEncoder
	genres    *MultiHotEncoder
	artists   *MultiHotEncoder
	composers *MultiHotEncoder
	languages *MultiHotEncoder
	composite *CompositeEncoder
}

// NewSongEncoder builds vocabularies from all songs. The length of the first component is the
// song length, linearly encoded.
func NewSongEncoder(songs []*dataset.Song) (*SongEncoder, error) {
	length, err := NewLinearEncoder(lo.Map(songs, func(song *dataset.Song, _ int) float32 { return song.Length }))
	if err != nil {
		return nil, errors.Annotate(err, "song length")
	}
	e := &SongEncoder{
		length:    length,
		genres:    NewMultiHotEncoder(lo.FlatMap(songs, func(song *dataset.Song, _ int) []string { return song.Genres })),
		artists:   NewMultiHotEncoder(lo.FlatMap(songs, func(song *dataset.Song, _ int) []string { return song.Artists })),
		composers: NewMultiHotEncoder(lo.FlatMap(songs, func(song *dataset.Song, _ int) []string { return song.Composers })),
		languages: NewMultiHotEncoder(lo.FlatMap(songs, func(song *dataset.Song, _ int) []string { return song.Languages })),
	}
	e.compose()
	return e, nil
}

func (e *SongEncoder) compose() {
	e.composite = NewCompositeEncoder(e.length, e.genres, e.artists, e.composers, e.languages)
}

func (e *SongEncoder) Len() int {
	return e.composite.Len()
}

func (e *SongEncoder) Encode(song *dataset.Song) ([]float32, error) {
	return e.composite.Encode(
		[]string{encoding.FormatFloat32(song.Length)},
		song.Genres,
		song.Artists,
		song.Composers,
		song.Languages)
}

func (e *SongEncoder) Marshal(w io.Writer) error {
	if err := e.length.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	for _, encoder := range []*MultiHotEncoder{e.genres, e.artists, e.composers, e.languages} {
		if err := encoder.Marshal(w); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (e *SongEncoder) Unmarshal(r io.Reader) error {
	e.length = &LinearEncoder{}
	if err := e.length.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	e.genres, e.artists, e.composers, e.languages = &MultiHotEncoder{}, &MultiHotEncoder{}, &MultiHotEncoder{}, &MultiHotEncoder{}
	for _, encoder := range []*MultiHotEncoder{e.genres, e.artists, e.composers, e.languages} {
		if err := encoder.Unmarshal(r); err != nil {
			return errors.Trace(err)
		}
	}
	e.compose()
	return nil
}
