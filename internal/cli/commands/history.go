package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapbatch/internal/journal"
)

const timeLayout = "2006-01-02 15:04:05"

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `List the most recent runs recorded in the journal, or the batches of
one run when its ID is given.`,
		Example: `  # Recent runs
  leapbatch history --journal .leapbatch/journal.db

  # Batches of one run
  leapbatch history 5f0c7a8e-7d2b-4a51-9d43-2b1f3c9e6a10`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := NewCommandContext(cmd).OpenJournal()
			if err != nil {
				return err
			}
			defer j.Close()

			if len(args) == 1 {
				run, err := j.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				batches, err := j.Batches(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				writeRunDetail(cmd.OutOrStdout(), run, batches)
				return nil
			}

			runs, err := j.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
				return nil
			}
			writeRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func writeRuns(w io.Writer, runs []*journal.Run) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run", "Started", "Provider", "Mode", "Status", "Script"})
	for _, r := range runs {
		t.AppendRow(table.Row{r.ID, r.StartedAt.Local().Format(timeLayout), r.Provider, r.Mode, r.Status, r.Script})
	}
	t.Render()
}

func writeRunDetail(w io.Writer, run *journal.Run, batches []journal.Batch) {
	_, _ = fmt.Fprintf(w, "Run %s\n", run.ID)
	_, _ = fmt.Fprintf(w, "  Script:   %s\n", run.Script)
	_, _ = fmt.Fprintf(w, "  Provider: %s (%s)\n", run.Provider, run.Mode)
	_, _ = fmt.Fprintf(w, "  Status:   %s (%s)\n", run.Status, run.ExitClass)
	if run.FinishedAt != nil {
		_, _ = fmt.Fprintf(w, "  Elapsed:  %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Error != "" {
		_, _ = fmt.Fprintf(w, "  Error:    %s\n", run.Error)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Location", "Status", "Duration", "Error"})
	for _, b := range batches {
		t.AppendRow(table.Row{b.Number, fmt.Sprintf("%s(%d)", b.File, b.Line), b.Status, b.Duration.Round(time.Millisecond), b.Error})
	}
	t.Render()
}
