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

package pipeline

import (
	"io"

	"github.com/gorse-io/nextsong/base/encoding"
	"github.com/gorse-io/nextsong/base/log"
	"github.com/gorse-io/nextsong/cmd/version"
	"github.com/gorse-io/nextsong/model/dtnmr"
	"github.com/gorse-io/nextsong/storage/blob"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Checkpoint is a trained model with the encoders it was trained with.
type Checkpoint struct {
	Version  string // version of the binary training the model
	Score    dtnmr.Score
	Encoders *dtnmr.Encoders
	Model    *dtnmr.DTNMR
}

func (c *Checkpoint) Marshal(w io.Writer) error {
	// 1. format
	if err := encoding.WriteString(w, version.ModelFormat); err != nil {
		return errors.Trace(err)
	}
	// 2. version
	if err := encoding.WriteString(w, c.Version); err != nil {
		return errors.Trace(err)
	}
	// 3. score
	if err := encoding.WriteGob(w, c.Score); err != nil {
		return errors.Trace(err)
	}
	// 4. encoders
	if err := c.Encoders.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	// 5. model
	return errors.Trace(c.Model.Marshal(w))
}

func (c *Checkpoint) Unmarshal(r io.Reader) error {
	format, err := encoding.ReadString(r)
	if err != nil {
		return errors.Trace(err)
	}
	if format != version.ModelFormat {
		return errors.NotValidf("model format %q", format)
	}
	if c.Version, err = encoding.ReadString(r); err != nil {
		return errors.Trace(err)
	}
	if err = encoding.ReadGob(r, &c.Score); err != nil {
		return errors.Trace(err)
	}
	c.Encoders = &dtnmr.Encoders{}
	if err = c.Encoders.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	c.Model = dtnmr.NewDTNMR(nil)
	return errors.Trace(c.Model.Unmarshal(r))
}

func SaveCheckpoint(store blob.Store, c *Checkpoint) error {
	if err := blob.Save(store, blob.ModelName, c.Marshal); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("save model",
		zap.String("name", blob.ModelName),
		zap.String("version", c.Version),
		zap.Any("params", c.Model.GetParams()))
	return nil
}

func LoadCheckpoint(store blob.Store) (*Checkpoint, error) {
	c := &Checkpoint{}
	if err := blob.Load(store, blob.ModelName, c.Unmarshal); err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("load model",
		zap.String("name", blob.ModelName),
		zap.String("version", c.Version),
		zap.Float32("loss", c.Score.Loss),
		zap.Float32("accuracy", c.Score.Accuracy))
	return c, nil
}
