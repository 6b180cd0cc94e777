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

package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/gorse-io/nextsong/base/log"
	"github.com/gorse-io/nextsong/pipeline"
	"github.com/juju/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var preprocessCommand = &cobra.Command{
	Use:   "preprocess",
	Short: "Filter KKBOX csv files and save the catalog and splits",
	Run: func(cmd *cobra.Command, args []string) {
		conf, store := setup(cmd)
		if dir, _ := cmd.Flags().GetString("source-dir"); dir != "" {
			conf.Data.SourceDir = dir
		}
		data, err := pipeline.Preprocess(openWithProgress(conf.Data.SourceDir), conf.Data.Options())
		if err != nil {
			log.Logger().Fatal("failed to preprocess", zap.String("source_dir", conf.Data.SourceDir), zap.Error(err))
		}
		if err = data.Save(store); err != nil {
			log.Logger().Fatal("failed to save preprocessed data", zap.Error(err))
		}
	},
}

func init() {
	preprocessCommand.Flags().String("source-dir", "", "directory of KKBOX csv files (overrides data.source_dir)")
	rootCommand.AddCommand(preprocessCommand)
}

// openWithProgress opens files in a directory and shows reading progress.
func openWithProgress(dir string) pipeline.Opener {
	return func(name string) (io.ReadCloser, error) {
		file, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, errors.NewNotFound(err, name)
			}
			return nil, errors.Trace(err)
		}
		stat, err := file.Stat()
		if err != nil {
			_ = file.Close()
			return nil, errors.Trace(err)
		}
		bar := progressbar.DefaultBytes(stat.Size(), "reading "+name)
		reader := progressbar.NewReader(file, bar)
		return &progressFile{Reader: &reader, file: file, bar: bar}, nil
	}
}

type progressFile struct {
	*progressbar.Reader
	file *os.File
	bar  *progressbar.ProgressBar
}

func (f *progressFile) Close() error {
	_ = f.bar.Finish()
	return f.file.Close()
}
