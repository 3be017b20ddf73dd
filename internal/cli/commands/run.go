package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapbatch/internal/cli/config"
	"github.com/leapstack-labs/leapbatch/internal/render"
	"github.com/leapstack-labs/leapbatch/internal/runner"
	"github.com/leapstack-labs/leapbatch/internal/trace"
	"github.com/leapstack-labs/leapbatch/pkg/adapters/all"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// DefaultDebounce is how long watch mode waits for changes to settle.
const DefaultDebounce = 300 * time.Millisecond

// RunOptions holds options for the run command.
type RunOptions struct {
	Watch    bool
	Debounce time.Duration
}

// RunFailure is returned when a run ends with a failure classification. Its
// diagnostics have already been written to the trace output.
type RunFailure struct {
	Outcome runner.Outcome
}

func (e *RunFailure) Error() string {
	if e.Outcome.Err == nil {
		return e.Outcome.Class.String()
	}
	return e.Outcome.Err.Error()
}

func (e *RunFailure) Unwrap() error {
	return e.Outcome.Err
}

// ExitClass implements core.Classified.
func (e *RunFailure) ExitClass() core.ExitClass {
	return e.Outcome.Class
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{Debounce: DefaultDebounce}

	cmd := &cobra.Command{
		Use:   "run [script]",
		Short: "Run a SQL batch script",
		Long: `Preprocess a SQL script, split it into batches at terminator lines
and execute each batch against the configured database.

With --output the batches are written to a distribution script instead of
being executed. Errors are reported against the original source file and
line, following #line directives emitted by the preprocessor.`,
		Example: `  # Execute a script against SQL Server
  leapbatch run deploy.sql -S db01 -d sales -E

  # Run through the C preprocessor with a definition
  leapbatch run deploy.sql --preprocessor cpp -D ENV=prod

  # Write a distribution script instead of executing
  leapbatch run deploy.sql -o dist/deploy.sql

  # Re-run whenever the script or an include directory changes
  leapbatch run deploy.sql -p sqlite -d dev.db --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args, opts)
		},
	}

	f := cmd.Flags()
	f.StringP("output", "o", "", "Write a distribution script instead of executing")
	f.Bool("pipe", true, "Stream preprocessor output through a named pipe")
	f.String("temp-file", "", "Have the preprocessor write this file instead of a pipe")
	f.Bool("keep-temp-file", false, "Keep the preprocessor output file")
	f.String("preprocessor", "", "Preprocessor executable")
	f.StringSliceP("define", "D", nil, "Macro definition passed to the preprocessor (repeatable)")
	f.StringSliceP("include", "I", nil, "Include directory passed to the preprocessor (repeatable)")
	f.BoolP("break-on-error", "b", false, "Stop at the first failing batch")
	f.IntP("verbosity", "V", config.DefaultVerbosity, "Trace verbosity (0 quiet .. 3 very verbose)")
	f.IntP("column-width", "w", 0, "Maximum column width of result sets (0 = auto)")
	f.StringP("format", "f", config.DefaultFormat, "Result format (table|csv|markdown|json)")
	f.String("terminator", config.DefaultTerminator, "Batch terminator keyword")
	f.StringP("host", "S", "", "Database server host")
	f.Int("port", 0, "Database server port")
	f.StringP("database", "d", "", "Database name or file")
	f.StringP("user", "U", "", "Login user")
	f.StringP("password", "P", "", "Login password")
	f.BoolP("integrated-auth", "E", false, "Use the operating system identity")
	f.Duration("timeout", config.DefaultTimeout, "Connection timeout")
	f.Duration("command-timeout", 0, "Per batch timeout (0 = none)")
	f.String("app-name", config.DefaultAppName, "Application name reported to the server")
	f.BoolVar(&opts.Watch, "watch", false, "Re-run when the script or include directories change")

	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{render.FormatTable, render.FormatCSV, render.FormatMarkdown, render.FormatJSON}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runRun(cmd *cobra.Command, args []string, opts *RunOptions) error {
	cc := NewCommandContext(cmd)
	cfg := *cc.Cfg
	if len(args) == 1 {
		cfg.Script = args[0]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	sink := trace.NewConsole(out, cfg.Verbosity)
	runOpts := []runner.Option{runner.WithSink(sink), runner.WithLogger(cc.Logger)}
	if cfg.Journal != "" {
		j, err := cc.OpenJournal()
		if err != nil {
			return err
		}
		defer j.Close()
		runOpts = append(runOpts, runner.WithJournal(j))
	}
	r := runner.New(all.NewRegistry(), runOpts...)
	options := cfg.RunOptions(terminalWidth(out))

	if !opts.Watch {
		return runOnce(ctx, r, options)
	}

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s for changes (Ctrl+C to stop)\n", cfg.Script)
	return watch(ctx, cfg.WatchPaths(), opts.Debounce, cc.Logger, func() {
		if err := runOnce(ctx, r, options); err != nil {
			cc.Logger.Debug("watched run failed", slog.Any("error", err))
		}
	})
}

func runOnce(ctx context.Context, r *runner.Runner, opts runner.Options) error {
	outcome := r.Run(ctx, opts)
	if outcome.Class == core.ExitSuccess {
		return nil
	}
	return &RunFailure{Outcome: outcome}
}
