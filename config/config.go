// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package config loads CLI settings from the environment, an optional .env
// file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "PERSIST"

// Supported drivers.
const (
	DriverBadger = "badger"
	DriverMongo  = "mongo"
)

// Config keys, also used as config file keys.
const (
	KeyLogLevel         = "log_level"
	KeyDriver           = "driver"
	KeyDBPath           = "db"
	KeyInMemory         = "in_memory"
	KeyMongoURI         = "mongo_uri"
	KeyMongoDatabase    = "mongo_database"
	KeyModels           = "models"
	KeyProgramCacheSize = "program_cache_size"
)

var (
	// ErrUnknownDriver is returned for a driver other than badger or mongo.
	ErrUnknownDriver = errors.New("unknown driver")

	// ErrMissingSetting is returned when a setting required by the driver is empty.
	ErrMissingSetting = errors.New("missing setting")
)

// Config holds the settings used to open a database.
type Config struct {
	LogLevel         string
	Driver           string
	DBPath           string
	InMemory         bool
	MongoURI         string
	MongoDatabase    string
	ModelsPath       string
	ProgramCacheSize int64
}

// Load reads configuration. Environment variables (PERSIST_DRIVER and so on)
// win over the config file, which wins over defaults. envFiles are loaded
// into the environment first without overriding variables already set;
// with none given, ./.env is tried. Missing env files are ignored.
func Load(configFile string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyDriver, DriverBadger)
	v.SetDefault(KeyDBPath, "persist.db")
	v.SetDefault(KeyInMemory, false)
	v.SetDefault(KeyMongoDatabase, "persist")
	v.SetDefault(KeyProgramCacheSize, 1024)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		LogLevel:         v.GetString(KeyLogLevel),
		Driver:           strings.ToLower(v.GetString(KeyDriver)),
		DBPath:           v.GetString(KeyDBPath),
		InMemory:         v.GetBool(KeyInMemory),
		MongoURI:         v.GetString(KeyMongoURI),
		MongoDatabase:    v.GetString(KeyMongoDatabase),
		ModelsPath:       v.GetString(KeyModels),
		ProgramCacheSize: v.GetInt64(KeyProgramCacheSize),
	}
	return cfg, nil
}

// Validate checks that the settings required by the driver are present.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverBadger:
		if c.DBPath == "" && !c.InMemory {
			return fmt.Errorf("%w: %s", ErrMissingSetting, KeyDBPath)
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("%w: %s", ErrMissingSetting, KeyMongoURI)
		}
		if c.MongoDatabase == "" {
			return fmt.Errorf("%w: %s", ErrMissingSetting, KeyMongoDatabase)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name (debug, info, warn, error) to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}
