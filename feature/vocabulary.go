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
	"sort"

	"github.com/gorse-io/nextsong/base/encoding"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// NotId represents a value that doesn't exist in a vocabulary.
const NotId = int32(-1)

// Vocabulary maps categorical values to dense indices. Values are deduplicated and sorted before
// indexing, so the same set of values always yields the same indices regardless of scan order.
type Vocabulary struct {
	numbers map[string]int32 // value -> dense index
	names   []string         // dense index -> value
}

// NewVocabulary creates a vocabulary over the unique values.
func NewVocabulary(values []string) *Vocabulary {
	names := lo.Uniq(values)
	sort.Strings(names)
	v := &Vocabulary{names: names}
	v.index()
	return v
}

func (v *Vocabulary) index() {
	v.numbers = make(map[string]int32, len(v.names))
	for i, name := range v.names {
		v.numbers[name] = int32(i)
	}
}

// Len returns the number of values.
func (v *Vocabulary) Len() int {
	if v == nil {
		return 0
	}
	return len(v.names)
}

// ToNumber converts a value to its index, or NotId if the value is unknown.
func (v *Vocabulary) ToNumber(name string) int32 {
	if number, exist := v.numbers[name]; exist {
		return number
	}
	return NotId
}

// ToName converts an index to its value.
func (v *Vocabulary) ToName(index int32) string {
	return v.names[index]
}

// Names returns all values in index order.
func (v *Vocabulary) Names() []string {
	return v.names
}

// Marshal vocabulary into byte stream.
func (v *Vocabulary) Marshal(w io.Writer) error {
	// write length
	err := binary.Write(w, binary.LittleEndian, int32(len(v.names)))
	if err != nil {
		return errors.Trace(err)
	}
	// write names
	for _, s := range v.names {
		if err = encoding.WriteString(w, s); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Unmarshal vocabulary from byte stream. Indices are restored exactly as marshaled.
func (v *Vocabulary) Unmarshal(r io.Reader) error {
	// read length
	var n int32
	err := binary.Read(r, binary.LittleEndian, &n)
	if err != nil {
		return errors.Trace(err)
	}
	if n < 0 {
		return errors.NotValidf("vocabulary length %d", n)
	}
	// read names
	v.names = make([]string, n)
	for i := range v.names {
		if v.names[i], err = encoding.ReadString(r); err != nil {
			return errors.Trace(err)
		}
	}
	v.index()
	return nil
}
