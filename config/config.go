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

package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/nextsong/dataset"
	"github.com/gorse-io/nextsong/model"
	"github.com/gorse-io/nextsong/model/dtnmr"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// envPrefix is the prefix of environment variables overriding the configuration,
// e.g. NEXTSONG_STORAGE_URI overrides storage.uri.
const envPrefix = "NEXTSONG"

// Config is the configuration for nextsong.
type Config struct {
	Data    DataConfig    `mapstructure:"data"`
	Storage StorageConfig `mapstructure:"storage"`
	Model   ModelConfig   `mapstructure:"model"`
	Train   TrainConfig   `mapstructure:"train"`
}

// DataConfig is the configuration of preprocessing.
type DataConfig struct {
	SourceDir         string  `mapstructure:"source_dir" validate:"required"`
	TopRatio          float32 `mapstructure:"top_ratio" validate:"gte=0,lt=1"`
	MaxSongLength     float32 `mapstructure:"max_song_length" validate:"gt=0"`
	MaxNameLength     int     `mapstructure:"max_name_length" validate:"gt=0"`
	MinAge            int     `mapstructure:"min_age" validate:"gte=0"`
	MaxAge            int     `mapstructure:"max_age" validate:"gtfield=MinAge"`
	MinPlaylistLength int     `mapstructure:"min_playlist_length" validate:"gte=0"`
	MaxPlaylistLength int     `mapstructure:"max_playlist_length" validate:"gtfield=MinPlaylistLength"`
}

// StorageConfig is the configuration of the blob store keeping processed tables and models.
type StorageConfig struct {
	URI               string        `mapstructure:"uri" validate:"required"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gte=0"`
	RequestsPerSecond int           `mapstructure:"requests_per_second" validate:"gte=0"`
	S3                S3Config      `mapstructure:"s3"`
	GCS               GCSConfig     `mapstructure:"gcs"`
	Azure             AzureConfig   `mapstructure:"azure"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Region          string `mapstructure:"region"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type GCSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type AzureConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
}

// ModelConfig is the configuration of the DTNMR network and its examples.
type ModelConfig struct {
	EmbeddingSize   int     `mapstructure:"embedding_size" validate:"gt=0"`
	HiddenLayers    []int   `mapstructure:"hidden_layers" validate:"min=1,dive,gt=0"`
	RecurrentLayers int     `mapstructure:"recurrent_layers" validate:"gt=0"`
	RecurrentHidden int     `mapstructure:"recurrent_hidden" validate:"gt=0"`
	Dropout         float32 `mapstructure:"dropout" validate:"gte=0,lt=1"`
	SubsetSize      int     `mapstructure:"subset_size" validate:"gt=0"`
	LongTermLength  int     `mapstructure:"long_term_length" validate:"gt=0"`
	ShortTermLength int     `mapstructure:"short_term_length" validate:"gt=0,ltefield=LongTermLength"`
}

// TrainConfig is the configuration of the training loop.
type TrainConfig struct {
	Lr          float32 `mapstructure:"lr" validate:"gt=0"`
	NEpochs     int     `mapstructure:"n_epochs" validate:"gt=0"`
	BatchSize   int     `mapstructure:"batch_size" validate:"gt=0"`
	Optimizer   string  `mapstructure:"optimizer" validate:"oneof=sgd adam"`
	Jobs        int     `mapstructure:"jobs" validate:"gt=0"`
	Verbose     int     `mapstructure:"verbose" validate:"gt=0"`
	Patience    int     `mapstructure:"patience" validate:"gte=0"`
	RandomState int64   `mapstructure:"random_state"`
}

func GetDefaultConfig() *Config {
	opts := dataset.DefaultOptions()
	return &Config{
		Data: DataConfig{
			SourceDir:         "data",
			TopRatio:          opts.TopRatio,
			MaxSongLength:     opts.MaxSongLength,
			MaxNameLength:     opts.MaxNameLength,
			MinAge:            opts.MinAge,
			MaxAge:            opts.MaxAge,
			MinPlaylistLength: opts.MinPlaylistLength,
			MaxPlaylistLength: opts.MaxPlaylistLength,
		},
		Storage: StorageConfig{
			URI:     "file://cache",
			Timeout: time.Minute,
			S3:      S3Config{UseSSL: true},
		},
		Model: ModelConfig{
			EmbeddingSize:   32,
			HiddenLayers:    []int{512, 64},
			RecurrentLayers: 2,
			RecurrentHidden: 256,
			Dropout:         0.3,
			SubsetSize:      5,
			LongTermLength:  20,
			ShortTermLength: 10,
		},
		Train: TrainConfig{
			Lr:        0.1,
			NEpochs:   1,
			BatchSize: 16,
			Optimizer: "sgd",
			Jobs:      1,
			Verbose:   1,
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [data]
	v.SetDefault("data.source_dir", defaultConfig.Data.SourceDir)
	v.SetDefault("data.top_ratio", defaultConfig.Data.TopRatio)
	v.SetDefault("data.max_song_length", defaultConfig.Data.MaxSongLength)
	v.SetDefault("data.max_name_length", defaultConfig.Data.MaxNameLength)
	v.SetDefault("data.min_age", defaultConfig.Data.MinAge)
	v.SetDefault("data.max_age", defaultConfig.Data.MaxAge)
	v.SetDefault("data.min_playlist_length", defaultConfig.Data.MinPlaylistLength)
	v.SetDefault("data.max_playlist_length", defaultConfig.Data.MaxPlaylistLength)
	// [storage]
	v.SetDefault("storage.uri", defaultConfig.Storage.URI)
	v.SetDefault("storage.timeout", defaultConfig.Storage.Timeout)
	v.SetDefault("storage.requests_per_second", defaultConfig.Storage.RequestsPerSecond)
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.use_ssl", defaultConfig.Storage.S3.UseSSL)
	v.SetDefault("storage.gcs.endpoint", "")
	v.SetDefault("storage.gcs.credentials_file", "")
	v.SetDefault("storage.azure.endpoint", "")
	v.SetDefault("storage.azure.account_name", "")
	v.SetDefault("storage.azure.account_key", "")
	// [model]
	v.SetDefault("model.embedding_size", defaultConfig.Model.EmbeddingSize)
	v.SetDefault("model.hidden_layers", defaultConfig.Model.HiddenLayers)
	v.SetDefault("model.recurrent_layers", defaultConfig.Model.RecurrentLayers)
	v.SetDefault("model.recurrent_hidden", defaultConfig.Model.RecurrentHidden)
	v.SetDefault("model.dropout", defaultConfig.Model.Dropout)
	v.SetDefault("model.subset_size", defaultConfig.Model.SubsetSize)
	v.SetDefault("model.long_term_length", defaultConfig.Model.LongTermLength)
	v.SetDefault("model.short_term_length", defaultConfig.Model.ShortTermLength)
	// [train]
	v.SetDefault("train.lr", defaultConfig.Train.Lr)
	v.SetDefault("train.n_epochs", defaultConfig.Train.NEpochs)
	v.SetDefault("train.batch_size", defaultConfig.Train.BatchSize)
	v.SetDefault("train.optimizer", defaultConfig.Train.Optimizer)
	v.SetDefault("train.jobs", defaultConfig.Train.Jobs)
	v.SetDefault("train.verbose", defaultConfig.Train.Verbose)
	v.SetDefault("train.patience", defaultConfig.Train.Patience)
	v.SetDefault("train.random_state", defaultConfig.Train.RandomState)
}

// LoadConfig loads configuration from a TOML file. Environment variables prefixed by NEXTSONG_
// override the file, which overrides the defaults. An empty path loads defaults and environment
// variables only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefault(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Annotatef(err, "failed to read config file %s", path)
		}
	}
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToWeakSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks the configuration against the rules in struct tags.
func (config *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(config); err != nil {
		return errors.NewNotValid(err, "invalid config")
	}
	return nil
}

// Options converts the data section to preprocessing options.
func (config *DataConfig) Options() dataset.Options {
	return dataset.Options{
		TopRatio:          config.TopRatio,
		MaxSongLength:     config.MaxSongLength,
		MaxNameLength:     config.MaxNameLength,
		MinAge:            config.MinAge,
		MaxAge:            config.MaxAge,
		MinPlaylistLength: config.MinPlaylistLength,
		MaxPlaylistLength: config.MaxPlaylistLength,
	}
}

// ModelParams converts the model and train sections to hyper-parameters.
func (config *Config) ModelParams() model.Params {
	return model.Params{
		model.Lr:              config.Train.Lr,
		model.NEpochs:         config.Train.NEpochs,
		model.BatchSize:       config.Train.BatchSize,
		model.Optimizer:       config.Train.Optimizer,
		model.RandomState:     config.Train.RandomState,
		model.EmbeddingSize:   config.Model.EmbeddingSize,
		model.HiddenLayers:    config.Model.HiddenLayers,
		model.RecurrentLayers: config.Model.RecurrentLayers,
		model.RecurrentHidden: config.Model.RecurrentHidden,
		model.Dropout:         config.Model.Dropout,
		model.ShortTermLength: config.Model.ShortTermLength,
	}
}

func (config *Config) SamplerConfig() dtnmr.SamplerConfig {
	return dtnmr.SamplerConfig{
		SubsetSize:     config.Model.SubsetSize,
		LongTermLength: config.Model.LongTermLength,
	}
}

func (config *Config) FitConfig() *dtnmr.FitConfig {
	return dtnmr.NewFitConfig().
		SetJobs(config.Train.Jobs).
		SetVerbose(config.Train.Verbose).
		SetPatience(config.Train.Patience)
}
