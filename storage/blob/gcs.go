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
	"context"
	"io"
	"os"
	"sort"
	"time"

	"cloud.google.com/go/storage"
	"github.com/gorse-io/nextsong/config"
	"github.com/juju/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// gcsEmulatorEndpoint overrides the endpoint of Google Cloud Storage without authentication.
const gcsEmulatorEndpoint = "GCS_EMULATOR_ENDPOINT"

type GCS struct {
	client  *storage.Client
	bucket  string
	prefix  string
	timeout time.Duration
}

func NewGCS(cfg config.GCSConfig, bucket, prefix string, timeout time.Duration) (*GCS, error) {
	if bucket == "" {
		return nil, errors.NotValidf("empty gcs bucket")
	}
	var opts []option.ClientOption
	if endpoint := os.Getenv(gcsEmulatorEndpoint); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	} else if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &GCS{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		timeout: timeout,
	}, nil
}

func (g *GCS) Open(name string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(g.bucket).Object(join(g.prefix, name)).NewReader(context.Background())
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, errors.NewNotFound(err, name)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return r, nil
}

func (g *GCS) Create(name string) (io.WriteCloser, chan struct{}, error) {
	ctx, cancel := context.WithCancel(context.Background())
	wc := g.client.Bucket(g.bucket).Object(join(g.prefix, name)).NewWriter(ctx)
	done := make(chan struct{})
	return &gcsWriter{Writer: wc, done: done, cancel: cancel}, done, nil
}

type gcsWriter struct {
	*storage.Writer
	done   chan struct{}
	cancel context.CancelFunc
}

func (w *gcsWriter) Close() error {
	defer close(w.done)
	defer w.cancel()
	return w.Writer.Close()
}

// CloseWithError aborts the upload.
func (w *gcsWriter) CloseWithError(err error) error {
	defer close(w.done)
	w.cancel()
	_ = w.Writer.Close()
	return nil
}

func (g *GCS) List() ([]string, error) {
	ctx, cancel := withTimeout(g.timeout)
	defer cancel()
	var names []string
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{
		Prefix: g.prefix,
	})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Trace(err)
		}
		if name := trimPrefix(g.prefix, attrs.Name); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (g *GCS) Remove(name string) error {
	ctx, cancel := withTimeout(g.timeout)
	defer cancel()
	err := g.client.Bucket(g.bucket).Object(join(g.prefix, name)).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return errors.NewNotFound(err, name)
	}
	return errors.Trace(err)
}
