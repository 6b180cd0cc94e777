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

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
)

// Behaviors without information. They are not part of the vocabulary and encode to zeros.
const (
	BehaviorNull     = "null"
	BehaviorSettings = "settings"
)

var uninformative = mapset.NewSet(BehaviorNull, BehaviorSettings)

// BehaviorEncoder encodes the source that made a user play a song.
type BehaviorEncoder struct {
	encoder *MultiHotEncoder
}

func NewBehaviorEncoder(labels []string) *BehaviorEncoder {
	vocab := mapset.NewThreadUnsafeSet(labels...)
	for label := range uninformative.Iter() {
		vocab.Remove(label)
	}
	return &BehaviorEncoder{encoder: NewMultiHotEncoder(vocab.ToSlice())}
}

func (e *BehaviorEncoder) Len() int {
	return e.encoder.Len()
}

func (e *BehaviorEncoder) Encode(label string) []float32 {
	if uninformative.Contains(label) {
		return e.encoder.EncodeValues(nil)
	}
	return e.encoder.EncodeValues(singleValue(label))
}

func (e *BehaviorEncoder) Marshal(w io.Writer) error {
	return errors.Trace(e.encoder.Marshal(w))
}

func (e *BehaviorEncoder) Unmarshal(r io.Reader) error {
	e.encoder = &MultiHotEncoder{}
	return errors.Trace(e.encoder.Unmarshal(r))
}
