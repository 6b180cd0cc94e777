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
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gorse-io/nextsong/base/log"
	"github.com/gorse-io/nextsong/pipeline"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var recommendCommand = &cobra.Command{
	Use:   "recommend",
	Short: "Rank the catalog for a user given the user's playlist",
	Run: func(cmd *cobra.Command, args []string) {
		conf, store := setup(cmd)
		userId, _ := cmd.Flags().GetString("user")
		n, _ := cmd.Flags().GetInt("n")
		splitName, _ := cmd.Flags().GetString("split")
		data, err := pipeline.LoadData(store)
		if err != nil {
			log.Logger().Fatal("failed to load preprocessed data", zap.Error(err))
		}
		split, err := data.Split(splitName)
		if err != nil {
			log.Logger().Fatal("failed to select split", zap.Error(err))
		}
		checkpoint, err := pipeline.LoadCheckpoint(store)
		if err != nil {
			log.Logger().Fatal("failed to load model", zap.Error(err))
		}
		recommends, err := pipeline.Recommend(checkpoint, data, split, userId, n, conf.SamplerConfig())
		if err != nil {
			log.Logger().Fatal("failed to recommend", zap.String("user_id", userId), zap.Error(err))
		}
		// render table
		table := tablewriter.NewWriter(os.Stdout)
		table.Header([]string{"#", "Song", "Score", "Artists", "Genres"})
		for i, recommend := range recommends {
			song, err := data.Catalog.GetSong(recommend.Value)
			if err != nil {
				log.Logger().Fatal("failed to get song", zap.String("song_id", recommend.Value), zap.Error(err))
			}
			if err = table.Append([]string{
				strconv.Itoa(i + 1),
				song.SongId,
				fmt.Sprintf("%.4f", recommend.Weight),
				strings.Join(song.Artists, "|"),
				strings.Join(song.Genres, "|"),
			}); err != nil {
				log.Logger().Fatal("failed to render table", zap.Error(err))
			}
		}
		if err = table.Render(); err != nil {
			log.Logger().Fatal("failed to render table", zap.Error(err))
		}
	},
}

var inspectCommand = &cobra.Command{
	Use:   "inspect",
	Short: "Show encoder widths and split sizes",
	Run: func(cmd *cobra.Command, args []string) {
		_, store := setup(cmd)
		data, err := pipeline.LoadData(store)
		if err != nil {
			log.Logger().Fatal("failed to load preprocessed data", zap.Error(err))
		}
		summary, err := pipeline.Inspect(data)
		if err != nil {
			log.Logger().Fatal("failed to build encoders", zap.Error(err))
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header([]string{"Name", "Value"})
		for _, row := range [][]string{
			{"song width", strconv.Itoa(summary.SongWidth)},
			{"user width", strconv.Itoa(summary.UserWidth)},
			{"behavior width", strconv.Itoa(summary.BehaviorWidth)},
			{"songs", strconv.Itoa(summary.NumSongs)},
			{"users", strconv.Itoa(summary.NumUsers)},
			{"train users", strconv.Itoa(summary.TrainUsers)},
			{"train points", strconv.Itoa(summary.TrainPoints)},
			{"test users", strconv.Itoa(summary.TestUsers)},
			{"test points", strconv.Itoa(summary.TestPoints)},
		} {
			if err = table.Append(row); err != nil {
				log.Logger().Fatal("failed to render table", zap.Error(err))
			}
		}
		if err = table.Render(); err != nil {
			log.Logger().Fatal("failed to render table", zap.Error(err))
		}
	},
}

func init() {
	recommendCommand.Flags().StringP("user", "u", "", "user id")
	recommendCommand.Flags().IntP("n", "n", 10, "number of songs to recommend")
	recommendCommand.Flags().String("split", "test", "split holding the playlist of the user: train or test")
	_ = recommendCommand.MarkFlagRequired("user")
	rootCommand.AddCommand(recommendCommand)
	rootCommand.AddCommand(inspectCommand)
}
