// Package config layers flags, STREAMCAST_* environment (optionally from a
// .env file), config.{yaml,toml,json} and defaults through Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"streamcast/internal/dirs"
	"streamcast/internal/readiness"
	"streamcast/internal/stream"
)

// EnvPrefix is prepended to every environment key.
const EnvPrefix = "STREAMCAST"

const (
	KeyDataDir           = "data_dir"
	KeyTrackingDir       = "tracking_dir"
	KeyLogLevel          = "log_level"
	KeyLogOutput         = "log_output"
	KeyProgressions      = "progressions"
	KeyPollInterval      = "poll_interval"
	KeyReadyTimeout      = "ready_timeout"
	KeyShufflePartitions = "shuffle_partitions"
	KeyBroker            = "broker_binary"
)

// Settings is the resolved configuration.
type Settings struct {
	DataDir           string
	TrackingDir       string
	TablesDir         string
	CheckpointsDir    string
	LogDir            string
	LogLevel          string
	LogOutput         []string
	Progressions      int
	PollInterval      time.Duration
	ReadyTimeout      time.Duration
	ShufflePartitions int
	BrokerBinary      string
}

// SetDefaults registers the built-in defaults.
func SetDefaults(v *viper.Viper) {
	if d, err := dirs.DataDir(); err == nil {
		v.SetDefault(KeyDataDir, d)
	}
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogOutput, []string{"console", "file"})
	v.SetDefault(KeyProgressions, readiness.DefaultProgressions)
	v.SetDefault(KeyPollInterval, readiness.DefaultInterval)
	v.SetDefault(KeyReadyTimeout, readiness.DefaultTimeout)
	v.SetDefault(KeyShufflePartitions, stream.DefaultPartitions)
}

// LoadDotEnv loads .env from the working directory and the config directory.
// Variables already set in the environment win. Missing files are ignored.
func LoadDotEnv() error {
	candidates := []string{".env"}
	if cfgDir, err := dirs.ConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(cfgDir, ".env"))
	}
	for _, p := range candidates {
		if err := godotenv.Load(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Init wires Viper with config paths, env, defaults, and flag bindings.
// A malformed config file is an error; a missing one is not.
func Init(root *cobra.Command) error {
	_ = dirs.EnsureAll()
	if err := LoadDotEnv(); err != nil {
		return err
	}

	v := viper.GetViper()
	if cfgDir, err := dirs.ConfigDir(); err == nil {
		v.AddConfigPath(cfgDir)
	}
	v.SetConfigName("config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	for key, flag := range map[string]string{
		KeyDataDir:     "data-dir",
		KeyTrackingDir: "tracking-dir",
		KeyLogLevel:    "log-level",
	} {
		if f := root.PersistentFlags().Lookup(flag); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// Load resolves Settings from v. Derived directories default under DataDir.
func Load(v *viper.Viper) Settings {
	s := Settings{
		DataDir:           v.GetString(KeyDataDir),
		TrackingDir:       v.GetString(KeyTrackingDir),
		LogLevel:          v.GetString(KeyLogLevel),
		LogOutput:         v.GetStringSlice(KeyLogOutput),
		Progressions:      v.GetInt(KeyProgressions),
		PollInterval:      v.GetDuration(KeyPollInterval),
		ReadyTimeout:      v.GetDuration(KeyReadyTimeout),
		ShufflePartitions: v.GetInt(KeyShufflePartitions),
		BrokerBinary:      v.GetString(KeyBroker),
	}
	if s.TrackingDir == "" {
		s.TrackingDir = filepath.Join(s.DataDir, "mlruns")
	}
	s.TablesDir = filepath.Join(s.DataDir, "tables")
	s.CheckpointsDir = filepath.Join(s.DataDir, "checkpoints")
	if d, err := dirs.LogDir(); err == nil {
		s.LogDir = d
	}
	return s
}

// Current resolves Settings from the global Viper instance.
func Current() Settings { return Load(viper.GetViper()) }
