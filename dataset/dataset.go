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
	"io"
	"sort"

	"github.com/gorse-io/nextsong/base/encoding"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

var (
	ErrUserNotExist = errors.NotFoundf("user")
	ErrSongNotExist = errors.NotFoundf("song")
)

// Song is the metadata of a song. Multi-valued features hold atomic values.
type Song struct {
	SongId    string
	Length    float32 // seconds
	Genres    []string
	Artists   []string
	Composers []string
	Languages []string
}

// User is the static profile of a user. Each feature holds a single categorical value.
type User struct {
	UserId string
	Age    string
	Gender string
	City   string
}

// Listen is an entry of a playlist: a song and the behavior label of the user playing it.
type Listen struct {
	SongId   string
	Behavior string
}

// Point is a training point: the user and the song to predict.
type Point struct {
	UserId string
	SongId string
}

// Catalog holds the songs and users kept after preprocessing.
type Catalog struct {
	Songs     []*Song // sorted by id
	Users     []*User // sorted by id
	songIndex map[string]int
	userIndex map[string]int
}

func NewCatalog(songs []*Song, users []*User) *Catalog {
	c := &Catalog{Songs: songs, Users: users}
	c.index()
	return c
}

func (c *Catalog) index() {
	sort.Slice(c.Songs, func(i, j int) bool { return c.Songs[i].SongId < c.Songs[j].SongId })
	sort.Slice(c.Users, func(i, j int) bool { return c.Users[i].UserId < c.Users[j].UserId })
	c.songIndex = make(map[string]int, len(c.Songs))
	for i, song := range c.Songs {
		c.songIndex[song.SongId] = i
	}
	c.userIndex = make(map[string]int, len(c.Users))
	for i, user := range c.Users {
		c.userIndex[user.UserId] = i
	}
}

func (c *Catalog) CountSongs() int {
	return len(c.Songs)
}

func (c *Catalog) CountUsers() int {
	return len(c.Users)
}

func (c *Catalog) GetSong(songId string) (*Song, error) {
	if i, ok := c.songIndex[songId]; ok {
		return c.Songs[i], nil
	}
	return nil, errors.Annotate(ErrSongNotExist, songId)
}

func (c *Catalog) GetUser(userId string) (*User, error) {
	if i, ok := c.userIndex[userId]; ok {
		return c.Users[i], nil
	}
	return nil, errors.Annotate(ErrUserNotExist, userId)
}

func (c *Catalog) HasSong(songId string) bool {
	_, ok := c.songIndex[songId]
	return ok
}

func (c *Catalog) HasUser(userId string) bool {
	_, ok := c.userIndex[userId]
	return ok
}

// SongIds returns song ids in ascending order.
func (c *Catalog) SongIds() []string {
	return lo.Map(c.Songs, func(song *Song, _ int) string { return song.SongId })
}

func (c *Catalog) Marshal(w io.Writer) error {
	if err := encoding.WriteGob(w, c.Songs); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(encoding.WriteGob(w, c.Users))
}

func (c *Catalog) Unmarshal(r io.Reader) error {
	if err := encoding.ReadGob(r, &c.Songs); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.ReadGob(r, &c.Users); err != nil {
		return errors.Trace(err)
	}
	c.index()
	return nil
}

// Dataset is a split (train or test) of listening records.
type Dataset struct {
	Playlists map[string][]Listen // chronological playlist of each user
	Points    []Point
	Behaviors []string // distinct behavior labels, sorted
}

func (d *Dataset) CountUsers() int {
	return len(d.Playlists)
}

func (d *Dataset) CountPoints() int {
	return len(d.Points)
}

// GetPlaylist returns the playlist of a user.
func (d *Dataset) GetPlaylist(userId string) ([]Listen, bool) {
	playlist, ok := d.Playlists[userId]
	return playlist, ok
}

func (d *Dataset) Marshal(w io.Writer) error {
	if err := encoding.WriteGob(w, d.Playlists); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteGob(w, d.Points); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(encoding.WriteGob(w, d.Behaviors))
}

func (d *Dataset) Unmarshal(r io.Reader) error {
	if err := encoding.ReadGob(r, &d.Playlists); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.ReadGob(r, &d.Points); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(encoding.ReadGob(r, &d.Behaviors))
}
