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

package dataset

import (
	"bytes"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog() *Catalog {
	return NewCatalog([]*Song{
		{SongId: "s2", Length: 200, Genres: []string{"465"}, Artists: []string{"Adele"}, Languages: []string{"52"}},
		{SongId: "s1", Length: 240, Genres: []string{"465", "958"}, Artists: []string{"Queen"}, Composers: []string{"Freddie Mercury"}, Languages: []string{"52"}},
	}, []*User{
		{UserId: "u1", Age: "27", Gender: "female", City: "1"},
	})
}

func TestCatalog(t *testing.T) {
	catalog := newTestCatalog()
	assert.Equal(t, 2, catalog.CountSongs())
	assert.Equal(t, 1, catalog.CountUsers())
	assert.Equal(t, []string{"s1", "s2"}, catalog.SongIds())

	song, err := catalog.GetSong("s2")
	assert.NoError(t, err)
	assert.Equal(t, float32(200), song.Length)
	_, err = catalog.GetSong("s3")
	assert.True(t, errors.Is(err, ErrSongNotExist))
	assert.True(t, errors.Is(err, errors.NotFound))

	user, err := catalog.GetUser("u1")
	assert.NoError(t, err)
	assert.Equal(t, "female", user.Gender)
	_, err = catalog.GetUser("u2")
	assert.True(t, errors.Is(err, ErrUserNotExist))
	assert.True(t, catalog.HasUser("u1"))
	assert.False(t, catalog.HasSong("s3"))
}

func TestCatalog_Marshal(t *testing.T) {
	catalog := newTestCatalog()
	buf := bytes.NewBuffer(nil)
	require.NoError(t, catalog.Marshal(buf))
	var restored Catalog
	require.NoError(t, restored.Unmarshal(buf))
	assert.Equal(t, catalog.Songs, restored.Songs)
	assert.Equal(t, catalog.Users, restored.Users)
	song, err := restored.GetSong("s1")
	assert.NoError(t, err)
	assert.Equal(t, []string{"Queen"}, song.Artists)
}

func TestDataset_Marshal(t *testing.T) {
	d := &Dataset{
		Playlists: map[string][]Listen{
			"u1": {{SongId: "s1", Behavior: "my library"}, {SongId: "s2", Behavior: "discover"}},
		},
		Points:    []Point{{UserId: "u1", SongId: "s2"}},
		Behaviors: []string{"discover", "my library"},
	}
	buf := bytes.NewBuffer(nil)
	require.NoError(t, d.Marshal(buf))
	var restored Dataset
	require.NoError(t, restored.Unmarshal(buf))
	assert.Equal(t, d, &restored)
	assert.Equal(t, 1, restored.CountUsers())
	assert.Equal(t, 1, restored.CountPoints())
	playlist, ok := restored.GetPlaylist("u1")
	assert.True(t, ok)
	assert.Len(t, playlist, 2)
	_, ok = restored.GetPlaylist("u2")
	assert.False(t, ok)
}
