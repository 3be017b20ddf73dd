package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapbatch/internal/cli/config"
	"github.com/leapstack-labs/leapbatch/internal/journal"
	"github.com/leapstack-labs/leapbatch/internal/testutil"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// execute runs cmd with cfg in its context and returns its output.
func execute(t *testing.T, cmd *cobra.Command, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	ctx := config.WithConfig(context.Background(), cfg)
	ctx = config.WithLogger(ctx, testutil.NewTestLogger(t))
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	// never nil: cobra falls back to os.Args
	cmd.SetArgs(append([]string{}, args...))
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Provider = string(core.ProviderSQLite)
	cfg.Connection.Database = filepath.Join(t.TempDir(), "test.db")
	return cfg
}

func writeScript(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sql")
	require.NoError(t, os.WriteFile(path, []byte(text), 0600))
	return path
}

func TestNewRunCommand(t *testing.T) {
	cmd := NewRunCommand()

	assert.Equal(t, "run [script]", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotEmpty(t, cmd.Example, "Example should not be empty")

	flags := []string{
		"output", "pipe", "temp-file", "keep-temp-file", "preprocessor", "define", "include",
		"break-on-error", "verbosity", "column-width", "format", "terminator",
		"host", "port", "database", "user", "password", "integrated-auth",
		"timeout", "command-timeout", "app-name", "watch",
	}
	for _, flag := range flags {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
	assert.Equal(t, "D", cmd.Flags().Lookup("define").Shorthand)
	assert.Equal(t, "I", cmd.Flags().Lookup("include").Shorthand)
}

func TestRun_Executes(t *testing.T) {
	cfg := sqliteConfig(t)
	script := writeScript(t, "create table t (id int)\ngo\ninsert into t values (1), (2)\ngo\nselect count(*) as n from t\ngo\n")

	out, err := execute(t, NewRunCommand(), cfg, script)
	require.NoError(t, err)
	assert.Contains(t, out, "(1 row)")
}

func TestRun_CommandFailure(t *testing.T) {
	cfg := sqliteConfig(t)
	script := writeScript(t, "select * from missing\ngo\nselect 1 as one\ngo\n")

	out, err := execute(t, NewRunCommand(), cfg, script)
	require.Error(t, err)

	var failure *RunFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, core.ExitCommand, failure.ExitClass())
	assert.Equal(t, 2, failure.Outcome.Batches, "execution continues after a failed batch")
	assert.Contains(t, out, script+"(1): Error:")
	assert.Contains(t, out, "no such table: missing")
}

func TestRun_BreakOnError(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.BreakOnError = true
	script := writeScript(t, "select * from missing\ngo\nselect 1 as one\ngo\n")

	_, err := execute(t, NewRunCommand(), cfg, script)
	var failure *RunFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 1, failure.Outcome.Batches)
}

func TestRun_Distribution(t *testing.T) {
	cfg := sqliteConfig(t)
	script := writeScript(t, "select 1\ngo\nselect 2\ngo\n")
	cfg.Output = filepath.Join(t.TempDir(), "dist.sql")

	_, err := execute(t, NewRunCommand(), cfg, script)
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.Output)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFE}, data[:2], "distribution files are UTF-16LE with BOM")
}

func TestRun_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *config.Config, script string)
		noScript bool
	}{
		{name: "no script", mutate: func(*config.Config, string) {}, noScript: true},
		{name: "unknown provider", mutate: func(c *config.Config, _ string) { c.Provider = "oracle" }},
		{name: "unsupported provider", mutate: func(c *config.Config, _ string) { c.Provider = string(core.ProviderSybase) }},
		{name: "output overwrites the script", mutate: func(c *config.Config, s string) { c.Output = s }},
		{name: "missing preprocessor define name", mutate: func(c *config.Config, _ string) {
			c.Preprocessor = config.PreprocessorConfig{Executable: "cpp", Defines: []string{"=1"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sqliteConfig(t)
			script := writeScript(t, "select 1\ngo\n")
			tt.mutate(cfg, script)
			var args []string
			if !tt.noScript {
				args = []string{script}
			}

			_, err := execute(t, NewRunCommand(), cfg, args...)
			require.Error(t, err)
			assert.Equal(t, core.ExitConfig, core.ClassOf(err))
		})
	}
}

func TestRun_RecordsJournal(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Journal = filepath.Join(t.TempDir(), "state", "journal.db")
	script := writeScript(t, "select 1 as one\ngo\n")

	_, err := execute(t, NewRunCommand(), cfg, script)
	require.NoError(t, err)

	j, err := journal.Open(cfg.Journal, nil)
	require.NoError(t, err)
	defer j.Close()
	runs, err := j.RecentRuns(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, journal.RunStatusSucceeded, runs[0].Status)
	assert.Equal(t, script, runs[0].Script)
}

func TestProvidersCommand(t *testing.T) {
	out, err := execute(t, NewProvidersCommand(), config.Default())
	require.NoError(t, err)

	for _, id := range []string{"sqlserver", "sqlite", "postgres", "mysql", "duckdb", "clickhouse", "sybase", "informix", "db2"} {
		assert.Contains(t, out, id)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "sybase") {
			assert.Contains(t, line, "not supported")
		}
		if strings.Contains(line, " sqlite ") {
			assert.NotContains(t, line, "not supported")
		}
	}
}

func TestConfigCommand(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.File = "/etc/leapbatch.yaml"
	cfg.Connection.User = "sa"
	cfg.Connection.Password = "secret"

	out, err := execute(t, NewConfigCommand(), cfg)
	require.NoError(t, err)

	assert.Contains(t, out, "# config file: /etc/leapbatch.yaml")
	assert.Contains(t, out, "provider: sqlite")
	assert.Contains(t, out, "user: sa")
	assert.Contains(t, out, "timeout: 15s")
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, "********")
}

func TestHistoryCommand(t *testing.T) {
	t.Run("requires a journal", func(t *testing.T) {
		_, err := execute(t, NewHistoryCommand(), config.Default())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no journal configured")
		assert.Equal(t, core.ExitConfig, core.ClassOf(err))
	})

	cfg := sqliteConfig(t)
	cfg.Journal = filepath.Join(t.TempDir(), "journal.db")

	t.Run("empty journal", func(t *testing.T) {
		out, err := execute(t, NewHistoryCommand(), cfg)
		require.NoError(t, err)
		assert.Contains(t, out, "No runs recorded")
	})

	script := writeScript(t, "select 1 as one\ngo\nselect * from missing\ngo\n")
	_, err := execute(t, NewRunCommand(), cfg, script)
	require.Error(t, err)

	j, err := journal.Open(cfg.Journal, nil)
	require.NoError(t, err)
	runs, err := j.RecentRuns(t.Context(), 1)
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.Len(t, runs, 1)

	t.Run("lists runs", func(t *testing.T) {
		out, err := execute(t, NewHistoryCommand(), cfg)
		require.NoError(t, err)
		assert.Contains(t, out, runs[0].ID)
		assert.Contains(t, out, "failed")
	})

	t.Run("shows batches of a run", func(t *testing.T) {
		out, err := execute(t, NewHistoryCommand(), cfg, runs[0].ID)
		require.NoError(t, err)
		assert.Contains(t, out, "Run "+runs[0].ID)
		assert.Contains(t, out, script+"(1)")
		assert.Contains(t, out, script+"(3)")
		assert.Contains(t, out, "no such table: missing")
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := execute(t, NewHistoryCommand(), cfg, "missing")
		assert.ErrorContains(t, err, "run not found")
	})
}
