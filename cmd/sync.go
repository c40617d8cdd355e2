package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/modelrepo/internal/auth"
	"github.com/joescharf/modelrepo/internal/output"
	"github.com/joescharf/modelrepo/internal/repo"
	"github.com/joescharf/modelrepo/internal/sessions"
)

// errReported is returned once the failure has already been shown to the
// user, so Execute exits non-zero without printing it again.
var errReported = errors.New("already reported")

var (
	syncPolicy   string
	syncNoPrompt bool
)

var pullCmd = &cobra.Command{
	Use:   "pull [repo]",
	Short: "Commit local edits and merge remote changes",
	Long: `Commit local edits, fetch the remote and merge it into the working copy.

Conflicting paths are listed for you to decide: keep the local version or
take the remote one. Paths left undecided follow the conflicts.default policy.
Defaults to the repository in the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return syncRun(cmd, args, sessions.DirectionPull)
	},
}

var pushCmd = &cobra.Command{
	Use:   "push [repo]",
	Short: "Pull, then publish local commits to the remote",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return syncRun(cmd, args, sessions.DirectionPush)
	},
}

func init() {
	for _, c := range []*cobra.Command{pullCmd, pushCmd} {
		c.Flags().StringVar(&syncPolicy, "policy", "", "Policy for undecided conflicts: ours, theirs or reject")
		c.Flags().BoolVar(&syncNoPrompt, "no-prompt-credentials", false, "Fail instead of asking for missing credentials")
		rootCmd.AddCommand(c)
	}
}

func syncRun(cmd *cobra.Command, args []string, dir sessions.Direction) error {
	ctx := cmd.Context()

	s, err := getStore()
	if err != nil {
		return err
	}
	r, err := resolveRepositoryArg(ctx, s, args)
	if err != nil {
		return err
	}
	policy, err := configuredPolicy(syncPolicy)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would %s %s with %s (%s, conflicts: %s)", dir, output.Cyan(r.Name), r.Remote, auth.Redact(r.RemoteURL), policy)
		return nil
	}

	h, err := openHandle(r)
	if err != nil {
		return err
	}

	prompter := output.NewPrompter(ui, os.Stdin, r.Path)
	providers := configuredCredentials()
	if !syncNoPrompt && auth.NeedsCredentials(r.RemoteURL) {
		providers = append(providers, auth.NewPromptProvider(prompter.AskCredentials))
	}

	m, err := newManager(prompter, auth.NewChainProvider(providers...), policy)
	if err != nil {
		return err
	}

	verb := "Pulling"
	if dir == sessions.DirectionPush {
		verb = "Pushing"
	}
	ui.Info("%s %s (%s)", verb, output.Cyan(r.Name), auth.Redact(r.RemoteURL))

	var out *sessions.Outcome
	if dir == sessions.DirectionPush {
		out, err = m.RunPush(ctx, h)
	} else {
		out, err = m.RunPull(ctx, h)
	}
	if errors.Is(err, repo.ErrSessionBusy) {
		return fmt.Errorf("%s: %w", r.Name, err)
	}
	if out == nil {
		return err
	}

	ui.Outcome(out)
	if err != nil {
		return errReported
	}
	return nil
}
