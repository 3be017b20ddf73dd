// Package config loads the leapbatch configuration from defaults, a YAML
// file, LEAPBATCH_ environment variables and command-line flags, and turns
// it into the options of one run.
package config

import "time"

// Config holds all CLI configuration options.
type Config struct {
	Provider string `koanf:"provider" yaml:"provider"`
	Script   string `koanf:"script" yaml:"script"`
	// Output selects distribution mode: batches are written to this file
	// instead of being executed.
	Output string `koanf:"output" yaml:"output,omitempty"`

	// Pipe streams preprocessor output through a named pipe. When false, or
	// when TempFile is set, the preprocessor writes a temporary file.
	Pipe         bool   `koanf:"pipe" yaml:"pipe"`
	TempFile     string `koanf:"temp_file" yaml:"temp_file,omitempty"`
	KeepTempFile bool   `koanf:"keep_temp_file" yaml:"keep_temp_file,omitempty"`

	Preprocessor PreprocessorConfig `koanf:"preprocessor" yaml:"preprocessor"`

	BreakOnError bool   `koanf:"break_on_error" yaml:"break_on_error"`
	Verbosity    int    `koanf:"verbosity" yaml:"verbosity"`
	ColumnWidth  int    `koanf:"column_width" yaml:"column_width"`
	Format       string `koanf:"format" yaml:"format"`
	Terminator   string `koanf:"terminator" yaml:"terminator"`
	Journal      string `koanf:"journal" yaml:"journal,omitempty"`
	Verbose      bool   `koanf:"verbose" yaml:"verbose,omitempty"`

	Connection ConnectionConfig `koanf:"connection" yaml:"connection"`

	// File is the configuration file that was read, if any.
	File string `koanf:"-" yaml:"-"`
}

// PreprocessorConfig describes the external preprocessor.
type PreprocessorConfig struct {
	Executable  string   `koanf:"executable" yaml:"executable,omitempty"`
	Args        []string `koanf:"args" yaml:"args,omitempty"`
	Defines     []string `koanf:"defines" yaml:"defines,omitempty"`
	IncludeDirs []string `koanf:"include_dirs" yaml:"include_dirs,omitempty"`
	DefineFlag  string   `koanf:"define_flag" yaml:"define_flag,omitempty"`
	IncludeFlag string   `koanf:"include_flag" yaml:"include_flag,omitempty"`
	OutputFlag  string   `koanf:"output_flag" yaml:"output_flag,omitempty"`
}

// ConnectionConfig holds the backend connection settings.
type ConnectionConfig struct {
	Host           string         `koanf:"host" yaml:"host,omitempty"`
	Port           int            `koanf:"port" yaml:"port,omitempty"`
	Database       string         `koanf:"database" yaml:"database,omitempty"`
	User           string         `koanf:"user" yaml:"user,omitempty"`
	Password       string         `koanf:"password" yaml:"password,omitempty"`
	IntegratedAuth bool           `koanf:"integrated_auth" yaml:"integrated_auth,omitempty"`
	Timeout        time.Duration  `koanf:"timeout" yaml:"timeout,omitempty"`
	CommandTimeout time.Duration  `koanf:"command_timeout" yaml:"command_timeout,omitempty"`
	AppName        string         `koanf:"app_name" yaml:"app_name,omitempty"`
	Options        map[string]any `koanf:"options" yaml:"options,omitempty"`
}

// Default configuration values.
const (
	DefaultProvider    = "sqlserver"
	DefaultVerbosity   = 1
	DefaultFormat      = "table"
	DefaultTerminator  = "go"
	DefaultAppName     = "leapbatch"
	DefaultTimeout     = 15 * time.Second
	maskedPassword     = "********"
	configFileBaseName = "leapbatch"
)

// Masked returns a copy of c safe to print.
func (c Config) Masked() Config {
	if c.Connection.Password != "" {
		c.Connection.Password = maskedPassword
	}
	return c
}
