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

	"github.com/chewxy/math32"
	"github.com/gorse-io/nextsong/common/util"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

var (
	ErrArityMismatch  = errors.NotValidf("arity")
	ErrEmptyValues    = errors.NotValidf("empty values")
	ErrNotPositiveMax = errors.NotValidf("non-positive maximum")
)

// precision is the number of decimal digits kept by linear encoding.
const precision = 1e4

// Encoder maps the raw values of a feature to a fixed-length vector.
type Encoder interface {
	Len() int
	Encode(values []string) ([]float32, error)
}

// LinearEncoder divides a numeric value by the maximum observed at construction.
type LinearEncoder struct {
	max float32
}

// NewLinearEncoder creates a linear encoder. It fails if values are empty or the maximum is not
// positive.
func NewLinearEncoder(values []float32) (*LinearEncoder, error) {
	if len(values) == 0 {
		return nil, errors.Trace(ErrEmptyValues)
	}
	m := lo.Max(values)
	if m <= 0 {
		return nil, errors.Annotatef(ErrNotPositiveMax, "max = %v", m)
	}
	return &LinearEncoder{max: m}, nil
}

func (e *LinearEncoder) Len() int {
	return 1
}

// Max returns the maximum observed at construction.
func (e *LinearEncoder) Max() float32 {
	return e.max
}

// EncodeValue normalizes a value. Values beyond the maximum are not clamped.
func (e *LinearEncoder) EncodeValue(x float32) float32 {
	return math32.Round(x/e.max*precision) / precision
}

// Encode parses a single numeric value and normalizes it.
func (e *LinearEncoder) Encode(values []string) ([]float32, error) {
	if len(values) != 1 {
		return nil, errors.Annotatef(ErrArityMismatch, "linear encoder expects 1 value, got %d", len(values))
	}
	x, err := util.ParseFloat[float32](values[0])
	if err != nil {
		return nil, errors.Trace(err)
	}
	return []float32{e.EncodeValue(x)}, nil
}

func (e *LinearEncoder) Marshal(w io.Writer) error {
	return errors.Trace(binary.Write(w, binary.LittleEndian, e.max))
}

func (e *LinearEncoder) Unmarshal(r io.Reader) error {
	if err := binary.Read(r, binary.LittleEndian, &e.max); err != nil {
		return errors.Trace(err)
	}
	if e.max <= 0 {
		return errors.Annotatef(ErrNotPositiveMax, "max = %v", e.max)
	}
	return nil
}

// MultiHotEncoder sets one bit per known value. Unknown values are ignored.
type MultiHotEncoder struct {
	vocab *Vocabulary
}

func NewMultiHotEncoder(values []string) *MultiHotEncoder {
	return &MultiHotEncoder{vocab: NewVocabulary(values)}
}

func (e *MultiHotEncoder) Len() int {
	return e.vocab.Len()
}

// Vocabulary returns the values known by the encoder.
func (e *MultiHotEncoder) Vocabulary() *Vocabulary {
	return e.vocab
}

// EncodeValues never fails.
func (e *MultiHotEncoder) EncodeValues(values []string) []float32 {
	vec := make([]float32, e.vocab.Len())
	for _, value := range values {
		if i := e.vocab.ToNumber(value); i != NotId {
			vec[i] = 1
		}
	}
	return vec
}

func (e *MultiHotEncoder) Encode(values []string) ([]float32, error) {
	return e.EncodeValues(values), nil
}

func (e *MultiHotEncoder) Marshal(w io.Writer) error {
	return errors.Trace(e.vocab.Marshal(w))
}

func (e *MultiHotEncoder) Unmarshal(r io.Reader) error {
	e.vocab = &Vocabulary{}
	return errors.Trace(e.vocab.Unmarshal(r))
}

// CompositeEncoder concatenates the outputs of its encoders.
type CompositeEncoder struct {
	encoders []Encoder
}

func NewCompositeEncoder(encoders ...Encoder) *CompositeEncoder {
	return &CompositeEncoder{encoders: encoders}
}

func (e *CompositeEncoder) Len() int {
	n := 0
	for _, encoder := range e.encoders {
		n += encoder.Len()
	}
	return n
}

// Encode requires one group of values per encoder.
func (e *CompositeEncoder) Encode(groups ...[]string) ([]float32, error) {
	if len(groups) != len(e.encoders) {
		return nil, errors.Annotatef(ErrArityMismatch, "expect %d feature groups, got %d", len(e.encoders), len(groups))
	}
	vec := make([]float32, 0, e.Len())
	for i, encoder := range e.encoders {
		v, err := encoder.Encode(groups[i])
		if err != nil {
			return nil, errors.Trace(err)
		}
		vec = append(vec, v...)
	}
	return vec, nil
}
