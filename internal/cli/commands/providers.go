package commands

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapbatch/pkg/adapter"
	"github.com/leapstack-labs/leapbatch/pkg/adapters/all"
)

// NewProvidersCommand creates the providers command.
func NewProvidersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List database providers",
		Long: `List every database provider known to leapbatch and whether this
build can connect to it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			writeProviders(cmd.OutOrStdout(), all.NewRegistry())
			return nil
		},
	}
}

func writeProviders(w io.Writer, reg *adapter.Registry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Provider", "Status", "Description"})
	for _, f := range reg.List() {
		status := "supported"
		if !f.Supported() {
			status = "not supported"
		}
		t.AppendRow(table.Row{f.ID(), status, f.Description()})
	}
	t.Render()
}
