package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leapstack-labs/leapbatch/internal/cli/config"
	"github.com/leapstack-labs/leapbatch/internal/journal"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

// NewCommandContext collects the configuration and logger stored in the
// command context by the root command.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	return &CommandContext{
		Cfg:    config.FromContext(cmd.Context()),
		Logger: config.GetLogger(cmd.Context()),
	}
}

// OpenJournal opens the configured run journal, creating its directory.
func (c *CommandContext) OpenJournal() (*journal.Journal, error) {
	if c.Cfg.Journal == "" {
		return nil, core.ConfigErrorf("no journal configured\nHint: set journal in leapbatch.yaml or pass --journal")
	}
	dir := filepath.Dir(c.Cfg.Journal)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, core.Classify(core.ExitFileIO, fmt.Errorf("failed to create journal directory: %w", err))
		}
	}
	j, err := journal.Open(c.Cfg.Journal, c.Logger)
	if err != nil {
		return nil, core.Classify(core.ExitFileIO, err)
	}
	return j, nil
}

// terminalWidth returns the width of w when it is a terminal, else 0.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}
