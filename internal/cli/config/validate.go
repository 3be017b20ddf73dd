package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/leapstack-labs/leapbatch/internal/preprocess"
	"github.com/leapstack-labs/leapbatch/internal/render"
	"github.com/leapstack-labs/leapbatch/internal/runner"
	"github.com/leapstack-labs/leapbatch/internal/trace"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// Validate checks settings that can be rejected before a run starts.
// Provider and script checks belong to the run itself.
func (c *Config) Validate() error {
	if c.Verbosity < trace.Quiet || c.Verbosity > trace.VeryVerbose {
		return core.ConfigErrorf("verbosity must be between %d and %d, got %d", trace.Quiet, trace.VeryVerbose, c.Verbosity)
	}
	switch c.Format {
	case render.FormatTable, render.FormatCSV, render.FormatMarkdown, render.FormatJSON:
	default:
		return core.ConfigErrorf("unknown format %q\nHint: use table, csv, markdown or json", c.Format)
	}
	if c.ColumnWidth < 0 {
		return core.ConfigErrorf("column_width must not be negative")
	}
	if c.Connection.Port < 0 || c.Connection.Port > 65535 {
		return core.ConfigErrorf("connection port %d is out of range", c.Connection.Port)
	}
	if c.Connection.Timeout < 0 || c.Connection.CommandTimeout < 0 {
		return core.ConfigErrorf("connection timeouts must not be negative")
	}
	if c.KeepTempFile && c.Pipe && c.TempFile == "" {
		return core.ConfigErrorf("keep_temp_file requires temp_file or pipe: false")
	}
	return nil
}

// tempFilePath is used when the pipe transport is disabled without naming a file.
func tempFilePath() string {
	return filepath.Join(os.TempDir(), configFileBaseName+"-"+strconv.Itoa(os.Getpid())+".sql")
}

// RunOptions converts c into the options of one run. termWidth sizes result
// columns when ColumnWidth is zero; pass 0 when output is not a terminal.
func (c *Config) RunOptions(termWidth int) runner.Options {
	pp := preprocess.Config{
		Executable:   c.Preprocessor.Executable,
		Args:         c.Preprocessor.Args,
		Defines:      c.Preprocessor.Defines,
		IncludeDirs:  c.Preprocessor.IncludeDirs,
		DefineFlag:   c.Preprocessor.DefineFlag,
		IncludeFlag:  c.Preprocessor.IncludeFlag,
		OutputFlag:   c.Preprocessor.OutputFlag,
		Input:        c.Script,
		TempFile:     c.TempFile,
		KeepTempFile: c.KeepTempFile,
	}
	if !c.Pipe && pp.TempFile == "" {
		pp.TempFile = tempFilePath()
	}

	return runner.Options{
		Script:   c.Script,
		Provider: core.ProviderID(c.Provider),
		Connection: core.ConnectionParams{
			Host:           c.Connection.Host,
			Port:           c.Connection.Port,
			Database:       c.Connection.Database,
			User:           c.Connection.User,
			Password:       c.Connection.Password,
			IntegratedAuth: c.Connection.IntegratedAuth,
			Timeout:        c.Connection.Timeout,
			CommandTimeout: c.Connection.CommandTimeout,
			AppName:        c.Connection.AppName,
			Options:        c.Connection.Options,
		},
		Output:       c.Output,
		Preprocessor: pp,
		Terminator:   c.Terminator,
		BreakOnError: c.BreakOnError,
		Verbosity:    c.Verbosity,
		Render: render.Options{
			Format:      c.Format,
			ColumnWidth: c.ColumnWidth,
			TermWidth:   termWidth,
		},
	}
}

// WatchPaths returns the files and directories whose changes trigger a re-run.
func (c *Config) WatchPaths() []string {
	var paths []string
	if c.Script != "" {
		paths = append(paths, c.Script)
	}
	paths = append(paths, c.Preprocessor.IncludeDirs...)
	return paths
}
