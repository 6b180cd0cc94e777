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

package blob

import (
	"bufio"
	"context"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gorse-io/nextsong/base/log"
	"github.com/gorse-io/nextsong/common/parallel"
	"github.com/gorse-io/nextsong/config"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Names of the blobs written by preprocessing and training.
const (
	CatalogName = "catalog.bin"
	TrainName   = "train.bin"
	TestName    = "test.bin"
	ModelName   = "dtnmr.bin"
)

// Store keeps named blobs.
type Store interface {
	// Open a blob for reading.
	Open(name string) (io.ReadCloser, error)
	// Create a blob for writing. The done channel is closed once the blob is persisted.
	Create(name string) (io.WriteCloser, chan struct{}, error)
	// List names of all blobs.
	List() ([]string, error)
	// Remove a blob.
	Remove(name string) error
}

// Open creates a store from its URI:
//
//	file://<dir>
//	s3://<bucket>/<prefix>
//	gs://<bucket>/<prefix>
//	azblob://<container>/<prefix>
func Open(cfg config.StorageConfig) (Store, error) {
	u, err := url.Parse(cfg.URI)
	if err != nil {
		return nil, errors.Annotatef(err, "invalid storage uri %s", cfg.URI)
	}
	prefix := strings.Trim(u.Path, "/")
	var store Store
	switch u.Scheme {
	case "file":
		store = NewPOSIX(u.Host + u.Path)
	case "s3":
		store, err = NewS3(cfg.S3, u.Host, prefix, cfg.Timeout)
	case "gs":
		store, err = NewGCS(cfg.GCS, u.Host, prefix, cfg.Timeout)
	case "azblob":
		store, err = NewAzureBlob(cfg.Azure, u.Host, prefix, cfg.Timeout)
	default:
		return nil, errors.NotSupportedf("storage scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.RequestsPerSecond > 0 {
		store = &throttled{Store: store, limiter: parallel.NewRateLimiter(cfg.RequestsPerSecond)}
	}
	log.Logger().Info("open blob store", zap.String("scheme", u.Scheme), zap.String("location", u.Host+u.Path))
	return store, nil
}

// Save writes a blob with marshal. The blob is aborted if marshal fails.
func Save(store Store, name string, marshal func(w io.Writer) error) error {
	w, done, err := store.Create(name)
	if err != nil {
		return errors.Trace(err)
	}
	bw := bufio.NewWriter(w)
	if err = marshal(bw); err == nil {
		err = bw.Flush()
	}
	if err != nil {
		if a, ok := w.(interface{ CloseWithError(error) error }); ok {
			_ = a.CloseWithError(err)
		} else {
			_ = w.Close()
		}
		<-done
		return errors.Annotatef(err, "failed to save %s", name)
	}
	if err = w.Close(); err != nil {
		return errors.Annotatef(err, "failed to save %s", name)
	}
	<-done
	return nil
}

// Load reads a blob with unmarshal.
func Load(store Store, name string, unmarshal func(r io.Reader) error) error {
	r, err := store.Open(name)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Logger().Warn("failed to close blob", zap.String("name", name), zap.Error(err))
		}
	}()
	if err = unmarshal(bufio.NewReader(r)); err != nil {
		return errors.Annotatef(err, "failed to load %s", name)
	}
	return nil
}

// pipeWriter streams writes to an upload running in the background. Close waits for the
// upload and returns its error.
type pipeWriter struct {
	*io.PipeWriter
	done chan struct{}
	err  error
}

func upload(name string, send func(r io.Reader) error) (*pipeWriter, chan struct{}) {
	pr, pw := io.Pipe()
	w := &pipeWriter{PipeWriter: pw, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		w.err = send(pr)
		if w.err != nil {
			log.Logger().Error("failed to upload blob", zap.String("name", name), zap.Error(w.err))
		}
		_ = pr.CloseWithError(w.err)
	}()
	return w, w.done
}

func (w *pipeWriter) Close() error {
	if err := w.PipeWriter.Close(); err != nil {
		return err
	}
	<-w.done
	return w.err
}

// cancelReader releases the context of a download on close.
type cancelReader struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelReader) Close() error {
	defer r.cancel()
	return r.ReadCloser.Close()
}

// withTimeout bounds a metadata operation. Zero means no timeout.
func withTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

// trimPrefix converts an object key to a blob name.
func trimPrefix(prefix, key string) string {
	return strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

type throttled struct {
	Store
	limiter parallel.RateLimiter
}

func (t *throttled) Open(name string) (io.ReadCloser, error) {
	parallel.Wait(t.limiter, 1)
	return t.Store.Open(name)
}

func (t *throttled) Create(name string) (io.WriteCloser, chan struct{}, error) {
	parallel.Wait(t.limiter, 1)
	return t.Store.Create(name)
}

func (t *throttled) List() ([]string, error) {
	parallel.Wait(t.limiter, 1)
	return t.Store.List()
}

func (t *throttled) Remove(name string) error {
	parallel.Wait(t.limiter, 1)
	return t.Store.Remove(name)
}
