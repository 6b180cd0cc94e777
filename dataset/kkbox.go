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
	"strings"
	"unicode"
	"unicode/utf8"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/nextsong/base/log"
	"github.com/gorse-io/nextsong/common/util"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"modernc.org/strutil"
)

// Options are the filters applied to the KKBOX tables.
type Options struct {
	TopRatio          float32 // keep songs whose play count relative to the most played song exceeds it
	MaxSongLength     float32 // seconds
	MaxNameLength     int     // runes of an artist or composer name
	MinAge            int     // exclusive
	MaxAge            int     // exclusive
	MinPlaylistLength int     // exclusive, also the number of leading songs never used as labels
	MaxPlaylistLength int     // exclusive
}

func DefaultOptions() Options {
	return Options{
		TopRatio:          0.001,
		MaxSongLength:     360,
		MaxNameLength:     25,
		MinAge:            15,
		MaxAge:            60,
		MinPlaylistLength: 20,
		MaxPlaylistLength: 200,
	}
}

// Interaction is a row of train.csv or test.csv.
type Interaction struct {
	UserId   string
	SongId   string
	Behavior string
}

// SplitValues splits a pipe delimited field into trimmed atomic values. Empty values are dropped.
func SplitValues(raw string) []string {
	var values []string
	for _, v := range strings.Split(raw, "|") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

var specialScripts = []*unicode.RangeTable{unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul, unicode.Thai}

// ValidName reports whether an artist or composer name is short enough and written without
// Chinese, Japanese, Korean or Thai characters.
func ValidName(name string, maxLength int) bool {
	if utf8.RuneCountInString(name) > maxLength {
		return false
	}
	for _, r := range name {
		if unicode.IsOneOf(specialScripts, r) {
			return false
		}
	}
	return true
}

// LoadInteractions reads listening records. Identical strings share memory.
func LoadInteractions(r io.Reader) ([]Interaction, error) {
	pool := strutil.NewPool()
	var interactions []Interaction
	err := ReadCSV(r, []string{"msno", "song_id", "source_system_tab"}, func(row *Row) error {
		interactions = append(interactions, Interaction{
			UserId:   pool.Align(row.Get("msno")),
			SongId:   pool.Align(row.Get("song_id")),
			Behavior: pool.Align(row.Get("source_system_tab")),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return interactions, nil
}

// CountPopularity counts plays of each song.
func CountPopularity(interactions []Interaction) *FreqDict {
	popularity := NewFreqDict()
	for _, interaction := range interactions {
		popularity.Id(interaction.SongId)
	}
	return popularity
}

// LoadSongs reads songs.csv and keeps popular songs with valid metadata.
func LoadSongs(r io.Reader, popularity *FreqDict, opts Options) ([]*Song, error) {
	mostPopular := float32(popularity.MaxFreq())
	var (
		songs   []*Song
		dropped int
	)
	err := ReadCSV(r, []string{"song_id", "song_length", "genre_ids", "artist_name", "composer", "language"}, func(row *Row) error {
		songId := row.Get("song_id")
		// popularity
		id, ok := popularity.Lookup(songId)
		if !ok || mostPopular == 0 || float32(popularity.Freq(id))/mostPopular <= opts.TopRatio {
			dropped++
			return nil
		}
		// length
		ms, err := util.ParseFloat[float32](row.Get("song_length"))
		if err != nil {
			return errors.Annotatef(err, "invalid song_length at line %d", row.Line)
		}
		length := ms / 1000
		if length >= opts.MaxSongLength {
			dropped++
			return nil
		}
		// names
		artists := SplitValues(row.Get("artist_name"))
		composers := SplitValues(row.Get("composer"))
		for _, names := range [][]string{artists, composers} {
			for _, name := range names {
				if !ValidName(name, opts.MaxNameLength) {
					dropped++
					return nil
				}
			}
		}
		songs = append(songs, &Song{
			SongId:    songId,
			Length:    length,
			Genres:    SplitValues(row.Get("genre_ids")),
			Artists:   artists,
			Composers: composers,
			Languages: SplitValues(row.Get("language")),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("load songs", zap.Int("n_songs", len(songs)), zap.Int("n_dropped", dropped))
	return songs, nil
}

// LoadUsers reads members.csv and keeps users of admissible age.
func LoadUsers(r io.Reader, opts Options) ([]*User, error) {
	var (
		users   []*User
		dropped int
	)
	err := ReadCSV(r, []string{"msno", "bd", "gender", "city"}, func(row *Row) error {
		age, err := util.ParseInt[int](row.Get("bd"))
		if err != nil || age <= opts.MinAge || age >= opts.MaxAge {
			dropped++
			return nil
		}
		users = append(users, &User{
			UserId: row.Get("msno"),
			Age:    strings.TrimSpace(row.Get("bd")),
			Gender: strings.TrimSpace(row.Get("gender")),
			City:   strings.TrimSpace(row.Get("city")),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("load users", zap.Int("n_users", len(users)), zap.Int("n_dropped", dropped))
	return users, nil
}

// BuildDataset groups interactions of known users and songs into playlists and creates a point
// for every song after the first MinPlaylistLength songs of users whose playlist length lies
// strictly between MinPlaylistLength and MaxPlaylistLength.
func BuildDataset(interactions []Interaction, catalog *Catalog, opts Options) *Dataset {
	d := &Dataset{Playlists: make(map[string][]Listen)}
	var order []string
	behaviors := mapset.NewThreadUnsafeSet[string]()
	for _, interaction := range interactions {
		if !catalog.HasUser(interaction.UserId) || !catalog.HasSong(interaction.SongId) {
			continue
		}
		behaviors.Add(interaction.Behavior)
		if _, exist := d.Playlists[interaction.UserId]; !exist {
			order = append(order, interaction.UserId)
		}
		d.Playlists[interaction.UserId] = append(d.Playlists[interaction.UserId], Listen{
			SongId:   interaction.SongId,
			Behavior: interaction.Behavior,
		})
	}
	for _, userId := range order {
		playlist := d.Playlists[userId]
		if opts.MinPlaylistLength < len(playlist) && len(playlist) < opts.MaxPlaylistLength {
			for _, listen := range playlist[opts.MinPlaylistLength:] {
				d.Points = append(d.Points, Point{UserId: userId, SongId: listen.SongId})
			}
		}
	}
	d.Behaviors = behaviors.ToSlice()
	sort.Strings(d.Behaviors)
	return d
}
