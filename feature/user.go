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
	"encoding/binary"
	"io"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/nextsong/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// UserEncoder encodes the age, gender and city of a user followed by the signature of the songs
// the user has listened to.
type UserEncoder struct {
	age       *MultiHotEncoder
	gender    *MultiHotEncoder
	city      *MultiHotEncoder
	songWidth int
	composite *CompositeEncoder
}

func NewUserEncoder(users []*dataset.User, songs *SongEncoder) *UserEncoder {
	e := &UserEncoder{
		age:       NewMultiHotEncoder(lo.Compact(lo.Map(users, func(user *dataset.User, _ int) string { return user.Age }))),
		gender:    NewMultiHotEncoder(lo.Compact(lo.Map(users, func(user *dataset.User, _ int) string { return user.Gender }))),
		city:      NewMultiHotEncoder(lo.Compact(lo.Map(users, func(user *dataset.User, _ int) string { return user.City }))),
		songWidth: songs.Len(),
	}
	e.compose()
	return e
}

func (e *UserEncoder) compose() {
	e.composite = NewCompositeEncoder(e.age, e.gender, e.city)
}

// Len returns the width of the profile plus the width of the signature.
func (e *UserEncoder) Len() int {
	return e.composite.Len() + e.SignatureLen()
}

// SignatureLen returns the width of the history signature: a song encoding without its length.
func (e *UserEncoder) SignatureLen() int {
	return e.songWidth - 1
}

// Signature marks every song feature present in the history. The song length is left out.
func (e *UserEncoder) Signature(history [][]float32) ([]float32, error) {
	bits := bitset.New(uint(e.SignatureLen()))
	for _, song := range history {
		if len(song) != e.songWidth {
			return nil, errors.Annotatef(ErrArityMismatch, "expect song encoding of width %d, got %d", e.songWidth, len(song))
		}
		for i, v := range song[1:] {
			if v > 0 {
				bits.Set(uint(i))
			}
		}
	}
	signature := make([]float32, e.SignatureLen())
	for i, ok := bits.NextSet(0); ok; i, ok = bits.NextSet(i + 1) {
		signature[i] = 1
	}
	return signature, nil
}

// Encode encodes the profile of a user and the encoded songs listened before.
func (e *UserEncoder) Encode(user *dataset.User, history [][]float32) ([]float32, error) {
	profile, err := e.composite.Encode(
		singleValue(user.Age),
		singleValue(user.Gender),
		singleValue(user.City))
	if err != nil {
		return nil, errors.Trace(err)
	}
	signature, err := e.Signature(history)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return append(profile, signature...), nil
}

func (e *UserEncoder) Marshal(w io.Writer) error {
	for _, encoder := range []*MultiHotEncoder{e.age, e.gender, e.city} {
		if err := encoder.Marshal(w); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(binary.Write(w, binary.LittleEndian, int32(e.songWidth)))
}

func (e *UserEncoder) Unmarshal(r io.Reader) error {
	e.age, e.gender, e.city = &MultiHotEncoder{}, &MultiHotEncoder{}, &MultiHotEncoder{}
	for _, encoder := range []*MultiHotEncoder{e.age, e.gender, e.city} {
		if err := encoder.Unmarshal(r); err != nil {
			return errors.Trace(err)
		}
	}
	var songWidth int32
	if err := binary.Read(r, binary.LittleEndian, &songWidth); err != nil {
		return errors.Trace(err)
	}
	if songWidth < 1 {
		return errors.NotValidf("song width %d", songWidth)
	}
	e.songWidth = int(songWidth)
	e.compose()
	return nil
}

// singleValue wraps a categorical value. An empty value has no feature.
func singleValue(value string) []string {
	if value == "" {
		return nil
	}
	return []string{value}
}
