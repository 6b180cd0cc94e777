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
	"bytes"
	"testing"

	"github.com/gorse-io/nextsong/dataset"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSongs = []*dataset.Song{
		{SongId: "s1", Length: 200, Genres: []string{"A"}, Artists: []string{"Adele"}, Languages: []string{"52"}},
		{SongId: "s2", Length: 100, Genres: []string{"A", "B"}, Artists: []string{"Queen"}, Composers: []string{"Mercury"}, Languages: []string{"52"}},
		{SongId: "s3", Length: 50, Genres: []string{"C"}, Artists: []string{"Queen", "Bowie"}, Languages: []string{"3"}},
	}
	testUsers = []*dataset.User{
		{UserId: "u1", Age: "27", Gender: "female", City: "1"},
		{UserId: "u2", Age: "33", Gender: "male", City: "13"},
		{UserId: "u3", Age: "27", City: "5"},
	}
)

func TestSongEncoder(t *testing.T) {
	e, err := NewSongEncoder(testSongs)
	require.NoError(t, err)
	// length + genres(A,B,C) + artists(Adele,Bowie,Queen) + composers(Mercury) + languages(3,52)
	assert.Equal(t, 1+3+3+1+2, e.Len())
	v, err := e.Encode(testSongs[1])
	assert.NoError(t, err)
	assert.Equal(t, []float32{0.5, 1, 1, 0, 0, 0, 1, 1, 0, 1}, v)
	v, err = e.Encode(testSongs[2])
	assert.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0, 0, 1, 0, 1, 1, 0, 1, 0}, v)

	// idempotence
	again, err := e.Encode(testSongs[2])
	assert.NoError(t, err)
	assert.Equal(t, v, again)

	// exact round trip
	buf := bytes.NewBuffer(nil)
	require.NoError(t, e.Marshal(buf))
	var restored SongEncoder
	require.NoError(t, restored.Unmarshal(buf))
	assert.Equal(t, e.Len(), restored.Len())
	for _, song := range testSongs {
		expected, err := e.Encode(song)
		assert.NoError(t, err)
		actual, err := restored.Encode(song)
		assert.NoError(t, err)
		assert.Equal(t, expected, actual)
	}

	_, err = NewSongEncoder(nil)
	assert.True(t, errors.Is(err, ErrEmptyValues))
}

func TestUserEncoder(t *testing.T) {
	songs, err := NewSongEncoder(testSongs)
	require.NoError(t, err)
	e := NewUserEncoder(testUsers, songs)
	// ages(27,33) + genders(female,male) + cities(1,13,5)
	base := 2 + 2 + 3
	assert.Equal(t, songs.Len()-1, e.SignatureLen())
	assert.Equal(t, base+songs.Len()-1, e.Len())

	// empty history
	v, err := e.Encode(testUsers[0], nil)
	assert.NoError(t, err)
	assert.Len(t, v, e.Len())
	assert.Equal(t, []float32{1, 0, 1, 0, 1, 0, 0}, v[:base])
	assert.Equal(t, make([]float32, e.SignatureLen()), v[base:])

	// empty gender has no bit
	v, err = e.Encode(testUsers[2], nil)
	assert.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0, 0, 0, 1}, v[:base])

	// signature is presence only and drops the length
	s1, _ := songs.Encode(testSongs[0])
	s2, _ := songs.Encode(testSongs[1])
	v, err = e.Encode(testUsers[1], [][]float32{s1, s2, s2})
	assert.NoError(t, err)
	assert.Len(t, v, e.Len())
	for _, bit := range v[base:] {
		assert.Contains(t, []float32{0, 1}, bit)
	}
	assert.Equal(t, []float32{1, 1, 0, 1, 0, 1, 1, 0, 1}, v[base:])

	// history of wrong width
	_, err = e.Encode(testUsers[1], [][]float32{{1, 0}})
	assert.True(t, errors.Is(err, ErrArityMismatch))

	// exact round trip
	buf := bytes.NewBuffer(nil)
	require.NoError(t, e.Marshal(buf))
	var restored UserEncoder
	require.NoError(t, restored.Unmarshal(buf))
	assert.Equal(t, e.Len(), restored.Len())
	actual, err := restored.Encode(testUsers[1], [][]float32{s1, s2, s2})
	assert.NoError(t, err)
	assert.Equal(t, v, actual)
}

func TestBehaviorEncoder(t *testing.T) {
	labels := []string{"my library", "discover", BehaviorNull, "search", BehaviorSettings}
	e := NewBehaviorEncoder(labels)
	assert.Equal(t, len(labels)-2, e.Len())
	zeros := make([]float32, len(labels)-2)
	assert.Equal(t, zeros, e.Encode(BehaviorNull))
	assert.Equal(t, zeros, e.Encode(BehaviorSettings))
	assert.Equal(t, zeros, e.Encode("radio"))
	assert.Equal(t, []float32{1, 0, 0}, e.Encode("discover"))
	assert.Equal(t, []float32{0, 0, 1}, e.Encode("search"))

	buf := bytes.NewBuffer(nil)
	require.NoError(t, e.Marshal(buf))
	var restored BehaviorEncoder
	require.NoError(t, restored.Unmarshal(buf))
	for _, label := range labels {
		assert.Equal(t, e.Encode(label), restored.Encode(label))
	}
}
