// Package dirs resolves the per-user directories streamcast keeps its state in.
package dirs

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "streamcast"

// AppName returns the canonical application name for directory paths.
func AppName() string {
	return appName
}

// resolve picks the platform directory. On Linux the XDG variable wins,
// then ~/<linux...>; macOS uses ~/<darwin...>; anything else uses fallback().
func resolve(xdgVar string, linux, darwin []string, fallback func() (string, error)) (string, error) {
	switch runtime.GOOS {
	case "linux":
		if xdg := os.Getenv(xdgVar); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(append(append([]string{home}, linux...), appName)...), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(append([]string{home}, darwin...)...), nil
	default:
		return fallback()
	}
}

func underUserConfig() (string, error) {
	cfg, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg, appName), nil
}

// ConfigDir holds config.{yaml,toml,json} and .env.
// Linux: $XDG_CONFIG_HOME/streamcast or ~/.config/streamcast.
func ConfigDir() (string, error) {
	return resolve("XDG_CONFIG_HOME",
		[]string{".config"},
		[]string{"Library", "Application Support", appName},
		underUserConfig)
}

// DataDir holds tables, checkpoints and the tracking store.
// Linux: $XDG_DATA_HOME/streamcast or ~/.local/share/streamcast.
func DataDir() (string, error) {
	return resolve("XDG_DATA_HOME",
		[]string{".local", "share"},
		[]string{"Library", "Application Support", appName},
		underUserConfig)
}

// StateDir holds logs.
// Linux: $XDG_STATE_HOME/streamcast or ~/.local/state/streamcast.
func StateDir() (string, error) {
	return resolve("XDG_STATE_HOME",
		[]string{".local", "state"},
		[]string{"Library", "Application Support", appName, "state"},
		func() (string, error) {
			if la := os.Getenv("LOCALAPPDATA"); la != "" {
				return filepath.Join(la, appName, "state"), nil
			}
			cfg, err := ConfigDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(cfg, "state"), nil
		})
}

func underData(name string) (string, error) {
	d, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, name), nil
}

// TablesDir is the default parent of versioned prediction tables.
func TablesDir() (string, error) { return underData("tables") }

// CheckpointsDir is the default parent of query checkpoints.
func CheckpointsDir() (string, error) { return underData("checkpoints") }

// TrackingDir is the default run tracking store.
func TrackingDir() (string, error) { return underData("mlruns") }

// LogDir is where the file log writer puts streamcast.log.
func LogDir() (string, error) {
	s, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(s, "logs"), nil
}

// Ensure creates the directory if it doesn't exist.
func Ensure(path string) error {
	if path == "" {
		return errors.New("empty path")
	}
	return os.MkdirAll(path, 0o755)
}

// EnsureAll creates the config, data and state directories.
func EnsureAll() error {
	for _, fn := range []func() (string, error){ConfigDir, DataDir, StateDir, LogDir} {
		p, err := fn()
		if err != nil {
			continue
		}
		if err := Ensure(p); err != nil {
			return err
		}
	}
	return nil
}
