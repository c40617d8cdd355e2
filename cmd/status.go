package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joescharf/modelrepo/internal/git"
	"github.com/joescharf/modelrepo/internal/models"
	"github.com/joescharf/modelrepo/internal/output"
	"github.com/joescharf/modelrepo/internal/store"
)

var statusDirty bool

var statusCmd = &cobra.Command{
	Use:   "status [repo]",
	Short: "Show sync status of registered repositories",
	Long: `Show a status overview of every registered repository or detailed status
for one repository.

Without arguments, shows a summary table with local changes and the last sync.
With a repository name, shows detailed status for that repository.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return repoShowRun(cmd.Context(), args[0])
		}
		return statusOverviewRun(cmd.Context())
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusDirty, "dirty", false, "Show only repositories with local changes")
	rootCmd.AddCommand(statusCmd)
}

func statusOverviewRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	repos, err := s.ListRepositories(ctx)
	if err != nil {
		return err
	}

	if len(repos) == 0 {
		ui.Info("No repositories registered. Use 'mr repo add <path>' to get started.")
		return nil
	}

	table := ui.Table([]string{"Repository", "Branch", "Changes", "Last Sync", "Pull", "When"})

	for _, r := range repos {
		row := statusRow(ctx, s, r)
		if row == nil {
			continue
		}
		_ = table.Append(row)
	}

	return table.Render()
}

// statusRow builds the overview row of one repository, or nil when it is
// filtered out.
func statusRow(ctx context.Context, s store.Store, r *models.Repository) []string {
	branch, changes := "-", output.Red("missing")
	dirty := false
	if gr, err := git.Open(r.Path, gitOptions()); err == nil {
		branch, _ = gr.CurrentBranch(ctx)
		if changed, err := gr.ChangedPaths(ctx); err == nil {
			dirty = len(changed) > 0
			changes = output.Green("clean")
			if dirty {
				changes = output.Yellow(strconv.Itoa(len(changed)) + " changed")
			}
		}
	}
	if statusDirty && !dirty {
		return nil
	}

	lastSync, pull, when := "-", "-", "-"
	if last, err := s.LastSyncRecord(ctx, r.ID); err == nil {
		lastSync = fmt.Sprintf("%s %s", last.Direction, output.StatusColor(string(last.Status)))
		if last.PullResult != "" {
			pull = output.PullColor(last.PullResult)
		}
		when = humanize.Time(last.EndedAt)
	}

	return []string{output.Cyan(r.Name), branch, changes, lastSync, pull, when}
}
