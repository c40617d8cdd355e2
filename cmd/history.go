package cmd

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joescharf/modelrepo/internal/output"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [repo]",
	Short: "Show the sync history of a repository",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := getStore()
		if err != nil {
			return err
		}
		r, err := resolveRepositoryArg(ctx, s, args)
		if err != nil {
			return err
		}

		records, err := s.ListSyncRecords(ctx, r.ID, historyLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			ui.Info("No syncs recorded for %s", output.Cyan(r.Name))
			return nil
		}

		table := ui.Table([]string{"When", "Direction", "Status", "Pull", "Conflicts", "Detail"})
		for _, rec := range records {
			detail := rec.Error
			if detail == "" && len(rec.Theirs) > 0 {
				detail = "theirs: " + strings.Join(rec.Theirs, ", ")
			}
			conflicts := "-"
			if n := len(rec.Conflicts); n > 0 {
				conflicts = humanize.Comma(int64(n))
				if d := len(rec.Defaulted); d > 0 {
					conflicts += " (" + output.Red(humanize.Comma(int64(d))+" undecided") + ")"
				}
			}
			_ = table.Append([]string{
				humanize.Time(rec.EndedAt),
				string(rec.Direction),
				output.StatusColor(string(rec.Status)),
				output.PullColor(rec.PullResult),
				conflicts,
				detail,
			})
		}
		return table.Render()
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of entries")
	rootCmd.AddCommand(historyCmd)
}
