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
	"sort"
	"time"

	"github.com/gorse-io/nextsong/config"
	"github.com/juju/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3 struct {
	*minio.Client
	bucket  string
	prefix  string
	timeout time.Duration
}

func NewS3(cfg config.S3Config, bucket, prefix string, timeout time.Duration) (*S3, error) {
	if bucket == "" {
		return nil, errors.NotValidf("empty s3 bucket")
	}
	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &S3{
		Client:  minioClient,
		bucket:  bucket,
		prefix:  prefix,
		timeout: timeout,
	}, nil
}

// Open an object in S3 for reading.
func (s *S3) Open(name string) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(context.Background())
	object, err := s.Client.GetObject(ctx, s.bucket, join(s.prefix, name), minio.GetObjectOptions{})
	if err != nil {
		cancel()
		return nil, errors.Trace(err)
	}
	// GetObject is lazy, stat to report missing objects early.
	if _, err = object.Stat(); err != nil {
		cancel()
		_ = object.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.NewNotFound(err, name)
		}
		return nil, errors.Trace(err)
	}
	return &cancelReader{ReadCloser: object, cancel: cancel}, nil
}

// Create a new object in S3 for writing.
func (s *S3) Create(name string) (io.WriteCloser, chan struct{}, error) {
	fullPath := join(s.prefix, name)
	w, done := upload(fullPath, func(r io.Reader) error {
		_, err := s.Client.PutObject(context.Background(), s.bucket, fullPath, r, -1, minio.PutObjectOptions{})
		return err
	})
	return w, done, nil
}

func (s *S3) List() ([]string, error) {
	ctx, cancel := withTimeout(s.timeout)
	defer cancel()
	var names []string
	for object := range s.Client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, errors.Trace(object.Err)
		}
		if name := trimPrefix(s.prefix, object.Key); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *S3) Remove(name string) error {
	ctx, cancel := withTimeout(s.timeout)
	defer cancel()
	return errors.Trace(s.Client.RemoveObject(ctx, s.bucket, join(s.prefix, name), minio.RemoveObjectOptions{}))
}
