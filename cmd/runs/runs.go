// Package runs implements operator commands for inspecting analysis runs.
package runs

import (
	"context"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/coursecheck/cmd/common"
	"github.com/jonesrussell/coursecheck/internal/domain"
)

// Command returns the runs command group.
func Command(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect analysis runs",
	}

	cmd.AddCommand(listCommand(cfgFile))

	return cmd
}

func listCommand(cfgFile *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return list(cmd.Context(), *cfgFile, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")

	return cmd
}

func list(ctx context.Context, cfgFile string, limit int) error {
	deps, err := common.Core(cfgFile)
	if err != nil {
		return err
	}
	defer deps.Close()

	runs, err := deps.Runs.List(ctx, limit, 0)
	if err != nil {
		return err
	}

	renderRuns(runs)
	return nil
}

func renderRuns(runs []*domain.Run) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{
		"ID", "Status", "Model", "Total", "Queued", "Succeeded", "Failed", "Skipped", "Created",
	})

	for _, run := range runs {
		t.AppendRow(table.Row{
			run.ID,
			run.Status,
			run.Model,
			run.Total,
			run.QueuedCount,
			run.Succeeded,
			run.FailedCount,
			run.Skipped,
			run.CreatedAt.Format("2006-01-02 15:04"),
		})
	}

	t.Render()
}
