// Package cli provides the command-line interface for leapbatch.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapbatch/internal/cli/commands"
	"github.com/leapstack-labs/leapbatch/internal/cli/config"
	"github.com/leapstack-labs/leapbatch/pkg/adapters/all"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "leapbatch",
		Short: "leapbatch - SQL batch script runner",
		Long: `leapbatch runs SQL scripts made of batches separated by "go" lines.

Scripts can be expanded by an external preprocessor first; errors are then
reported against the original source files. Batches are executed against a
database or written to a distribution script for later deployment.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			logger := config.NewLogger(cmd.ErrOrStderr(), cfg.Verbose)
			if cfg.File != "" {
				logger.Debug("using config file", "path", cfg.File)
			}

			ctx := config.WithConfig(cmd.Context(), cfg)
			ctx = config.WithLogger(ctx, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
` + fmt.Sprintf("commit %s, built %s\n", GitCommit, BuildDate))

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: leapbatch.yaml, searched upward)")
	rootCmd.PersistentFlags().StringP("provider", "p", config.DefaultProvider, "Database provider")
	rootCmd.PersistentFlags().String("journal", "", "Path to the run journal database (empty disables)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Debug logging on stderr")

	_ = rootCmd.RegisterFlagCompletionFunc("provider", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		var ids []string
		for _, id := range all.NewRegistry().IDs() {
			ids = append(ids, string(id))
		}
		return ids, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewProvidersCommand())
	rootCmd.AddCommand(commands.NewConfigCommand())
	rootCmd.AddCommand(commands.NewHistoryCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return execute(NewRootCmd(), os.Stderr)
}

func execute(rootCmd *cobra.Command, stderr io.Writer) error {
	err := rootCmd.Execute()
	var failure *commands.RunFailure
	if err != nil && !errors.As(err, &failure) {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return err
}

// ExitCode maps the result of Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return core.ExitSuccess.Code()
	}
	var c core.Classified
	if errors.As(err, &c) {
		return c.ExitClass().Code()
	}
	// unclassified errors come from flag and argument parsing
	return core.ExitConfig.Code()
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for leapbatch.

To load completions:

Bash:
  $ source <(leapbatch completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ leapbatch completion bash > /etc/bash_completion.d/leapbatch
  # macOS:
  $ leapbatch completion bash > $(brew --prefix)/etc/bash_completion.d/leapbatch

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ leapbatch completion zsh > "${fpath[1]}/_leapbatch"

Fish:
  $ leapbatch completion fish | source

  # To load completions for each session, execute once:
  $ leapbatch completion fish > ~/.config/fish/completions/leapbatch.fish

PowerShell:
  PS> leapbatch completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
