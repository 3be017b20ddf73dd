package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/leapstack-labs/leapbatch/internal/preprocess"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// EnvPrefix prefixes every environment variable read as configuration.
// A double underscore separates nested keys: LEAPBATCH_CONNECTION__HOST.
const EnvPrefix = "LEAPBATCH_"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

type (
	loggerKey struct{}
	configKey struct{}
)

// flagKeys maps flags whose names differ from their configuration keys.
var flagKeys = map[string]string{
	"preprocessor":    "preprocessor.executable",
	"define":          "preprocessor.defines",
	"include":         "preprocessor.include_dirs",
	"host":            "connection.host",
	"port":            "connection.port",
	"database":        "connection.database",
	"user":            "connection.user",
	"password":        "connection.password",
	"integrated-auth": "connection.integrated_auth",
	"timeout":         "connection.timeout",
	"command-timeout": "connection.command_timeout",
	"app-name":        "connection.app_name",
}

// ignoredFlags are command switches, not configuration.
var ignoredFlags = map[string]bool{
	"config": true,
	"watch":  true,
	"limit":  true,
	"help":   true,
}

// pathKeys are resolved against the directory of the config file that sets them.
var pathKeys = []string{"script", "output", "temp_file", "journal"}

// configExistsIn returns the leapbatch config file in dir, if any.
func configExistsIn(dir string) string {
	for _, name := range []string{configFileBaseName + ".yaml", configFileBaseName + ".yml"} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findConfigFile searches upward from startDir for a leapbatch config file.
func findConfigFile(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if found := configExistsIn(dir); found != "" {
			return found
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func defaults() map[string]any {
	return map[string]any{
		"provider":            DefaultProvider,
		"pipe":                true,
		"verbosity":           DefaultVerbosity,
		"format":              DefaultFormat,
		"terminator":          DefaultTerminator,
		"break_on_error":      false,
		"column_width":        0,
		"connection.timeout":  DefaultTimeout,
		"connection.app_name": DefaultAppName,
	}
}

// Load loads configuration from defaults, the config file, environment
// variables and flags. Precedence (highest to lowest): flags > env vars >
// config file > defaults. An empty cfgFile searches upward from the working
// directory for leapbatch.yaml.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file
	if cfgFile == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfgFile = findConfigFile(cwd)
		}
	}
	if cfgFile != "" {
		if err := loadFile(k, cfgFile); err != nil {
			return nil, err
		}
	}

	// 3. Load environment variables (LEAPBATCH_ prefix)
	// Transform: LEAPBATCH_CONNECTION__HOST -> connection.host
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed || ignoredFlags[f.Name] {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, core.Classify(core.ExitConfig, fmt.Errorf("unable to decode config: %w", err))
	}
	cfg.File = cfgFile
	expandConnectionEnvVars(&cfg.Connection)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps an environment variable to a configuration key. The pipe path
// handed to preprocessor children shares the prefix and is skipped.
func envKey(s string) string {
	if s == preprocess.PipeEnv {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// loadFile merges the YAML file at path into k, resolving relative paths
// against the file's directory.
func loadFile(k *koanf.Koanf, path string) error {
	fk := koanf.New(".")
	if err := fk.Load(file.Provider(path), yaml.Parser()); err != nil {
		return core.Classify(core.ExitConfig, fmt.Errorf("error reading config file %s: %w", path, err))
	}

	base := filepath.Dir(path)
	for _, key := range pathKeys {
		if v := fk.String(key); v != "" && !filepath.IsAbs(v) {
			_ = fk.Set(key, filepath.Join(base, v))
		}
	}
	// a bare executable name is looked up in PATH
	if exe := fk.String("preprocessor.executable"); strings.ContainsRune(exe, filepath.Separator) && !filepath.IsAbs(exe) {
		_ = fk.Set("preprocessor.executable", filepath.Join(base, exe))
	}
	if dirs := fk.Strings("preprocessor.include_dirs"); len(dirs) > 0 {
		resolved := make([]string, len(dirs))
		for i, d := range dirs {
			resolved[i] = d
			if !filepath.IsAbs(d) {
				resolved[i] = filepath.Join(base, d)
			}
		}
		_ = fk.Set("preprocessor.include_dirs", resolved)
	}

	return k.Merge(fk)
}

// envVarPattern matches ${VAR} references.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}

// expandConnectionEnvVars expands environment variables in credentials.
func expandConnectionEnvVars(c *ConnectionConfig) {
	c.Host = expandEnvVars(c.Host)
	c.Database = expandEnvVars(c.Database)
	c.User = expandEnvVars(c.User)
	c.Password = expandEnvVars(c.Password)
}

// NewLogger returns the diagnostic logger of the CLI. verbose enables debug output.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

// WithConfig stores cfg in ctx.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the configuration loaded for the running command.
// Without one, the defaults are returned.
func FromContext(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	return Default()
}

// Default returns the configuration used when nothing overrides the defaults.
func Default() *Config {
	k := koanf.New(".")
	cfg := &Config{}
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err == nil {
		_ = k.Unmarshal("", cfg)
	}
	return cfg
}
