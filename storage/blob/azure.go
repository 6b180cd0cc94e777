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
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/gorse-io/nextsong/config"
	"github.com/juju/errors"
)

// azureConnectionString configures Azure Blob Storage with a connection string, which takes
// precedence over account keys. It is how emulators are reached.
const azureConnectionString = "AZURE_STORAGE_CONNECTION_STRING"

type AzureBlob struct {
	client    *azblob.Client
	container string
	prefix    string
	timeout   time.Duration
}

func NewAzureBlob(cfg config.AzureConfig, container, prefix string, timeout time.Duration) (*AzureBlob, error) {
	if container == "" {
		return nil, errors.NotValidf("empty azure container")
	}
	var (
		client *azblob.Client
		err    error
	)
	if connectionString := os.Getenv(azureConnectionString); connectionString != "" {
		client, err = azblob.NewClientFromConnectionString(connectionString, nil)
		if err != nil {
			return nil, errors.Trace(err)
		}
	} else {
		if cfg.AccountName == "" || cfg.AccountKey == "" {
			return nil, errors.NotValidf("azure blob requires account_name and account_key or %s", azureConnectionString)
		}
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
		}
		cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, errors.Trace(err)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}
	return &AzureBlob{
		client:    client,
		container: container,
		prefix:    prefix,
		timeout:   timeout,
	}, nil
}

func (a *AzureBlob) Open(name string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(context.Background(), a.container, join(a.prefix, name), nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil, errors.NewNotFound(err, name)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return resp.Body, nil
}

func (a *AzureBlob) Create(name string) (io.WriteCloser, chan struct{}, error) {
	fullPath := join(a.prefix, name)
	w, done := upload(fullPath, func(r io.Reader) error {
		_, err := a.client.UploadStream(context.Background(), a.container, fullPath, r, nil)
		return err
	})
	return w, done, nil
}

func (a *AzureBlob) List() ([]string, error) {
	ctx, cancel := withTimeout(a.timeout)
	defer cancel()
	var (
		prefix *string
		names  []string
	)
	if a.prefix != "" {
		prefix = &a.prefix
	}
	pager := a.client.NewListBlobsFlatPager(a.container, &azblob.ListBlobsFlatOptions{Prefix: prefix})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, item := range resp.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			if name := trimPrefix(a.prefix, *item.Name); name != "" {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

func (a *AzureBlob) Remove(name string) error {
	ctx, cancel := withTimeout(a.timeout)
	defer cancel()
	_, err := a.client.DeleteBlob(ctx, a.container, join(a.prefix, name), nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return errors.NewNotFound(err, name)
	}
	return errors.Trace(err)
}
