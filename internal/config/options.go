// Package config loads host-level pluginhost options.
//
// Precedence, lowest to highest: built-in defaults, the TOML config file,
// PLUGINHOST_* environment variables, CLI flags. Per-plugin configuration
// documents are handled separately by internal/configstore.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	tomlparser "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/smykla-labs/pluginhost/internal/xdg"
)

const (
	// ConfigFileName is the host configuration file name.
	ConfigFileName = "config.toml"

	defaultStopTimeoutStr = "10s"
)

// Options holds host-level settings for the plugin engine.
type Options struct {
	// PluginsDir is the root for user plugins.
	PluginsDir string `koanf:"plugins_dir" toml:"plugins_dir"`

	// BuiltinDir is the root for builtin (protected) plugins. It takes
	// discovery priority over PluginsDir.
	BuiltinDir string `koanf:"builtin_dir" toml:"builtin_dir"`

	// DataDir holds persisted plugin config documents and process logs.
	DataDir string `koanf:"data_dir" toml:"data_dir"`

	// LogFile is the host's own log file.
	LogFile string `koanf:"log_file" toml:"log_file"`

	// StopTimeout bounds graceful process termination before escalation.
	StopTimeout time.Duration `koanf:"stop_timeout" toml:"stop_timeout"`

	// Debug enables debug logging.
	Debug bool `koanf:"debug" toml:"debug"`
}

// ConfigDir returns the host configuration directory.
func ConfigDir() string {
	return xdg.ConfigDir()
}

// Load builds Options from defaults, the config file, environment, and flags.
func Load(flags map[string]any) (*Options, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load defaults")
	}

	path := filepath.Join(ConfigDir(), ConfigFileName)
	if _, statErr := os.Stat(path); statErr == nil {
		if err := k.Load(file.Provider(path), tomlparser.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %s", path)
		}
	}

	envOpt := env.Opt{
		Prefix:        "PLUGINHOST_",
		TransformFunc: envTransform,
	}

	if err := k.Load(env.Provider(".", envOpt), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load env vars")
	}

	if len(flags) > 0 {
		if err := k.Load(confmap.Provider(flags, "."), nil); err != nil {
			return nil, errors.Wrap(err, "failed to load flags")
		}
	}

	var opts Options
	if err := k.Unmarshal("", &opts); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal options")
	}

	return &opts, nil
}

// ConfigStoreDir returns the directory for persisted plugin config documents.
func (o *Options) ConfigStoreDir() string {
	return filepath.Join(o.DataDir, "config")
}

// ProcessLogsDir returns the directory for per-plugin process log files.
func (o *Options) ProcessLogsDir() string {
	return filepath.Join(o.DataDir, "logs")
}

func defaultsMap() map[string]any {
	return map[string]any{
		"plugins_dir":  xdg.PluginsDir(),
		"builtin_dir":  xdg.BuiltinDir(),
		"data_dir":     xdg.StateDir(),
		"log_file":     xdg.HostLogFile(),
		"stop_timeout": defaultStopTimeoutStr,
		"debug":        false,
	}
}

// envTransform maps environment variable names to config paths.
// PLUGINHOST_PLUGINS_DIR -> plugins_dir
func envTransform(key, value string) (string, any) {
	key = strings.TrimPrefix(key, "PLUGINHOST_")
	key = strings.ToLower(key)

	return key, value
}
