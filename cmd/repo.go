package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/modelrepo/internal/auth"
	"github.com/joescharf/modelrepo/internal/git"
	"github.com/joescharf/modelrepo/internal/models"
	"github.com/joescharf/modelrepo/internal/output"
	"github.com/joescharf/modelrepo/internal/repo"
	"github.com/joescharf/modelrepo/internal/store"
)

var (
	repoName   string
	repoRemote string
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage registered model repositories",
	Long:  "Add, clone, remove, list, and show the model repositories mr keeps in sync.",
}

var repoAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register an existing working copy",
	Long:  "Register a git working copy with mr. Use '.' for the current directory.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoAddRun(cmd.Context(), args[0])
	},
}

var repoCloneCmd = &cobra.Command{
	Use:   "clone <url> [path]",
	Short: "Clone a remote model repository and register it",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest := ""
		if len(args) > 1 {
			dest = args[1]
		}
		return repoCloneRun(cmd.Context(), args[0], dest)
	},
}

var repoRemoveCmd = &cobra.Command{
	Use:     "remove <name-or-path>",
	Aliases: []string{"rm"},
	Short:   "Unregister a repository (the working copy is kept)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoRemoveRun(cmd.Context(), args[0])
	},
}

var repoListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoListRun(cmd.Context())
	},
}

var repoShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show detailed repository information",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "."
		if len(args) > 0 {
			name = args[0]
		}
		return repoShowRun(cmd.Context(), name)
	},
}

func init() {
	repoAddCmd.Flags().StringVar(&repoName, "name", "", "Override repository name (default: directory name)")
	repoAddCmd.Flags().StringVar(&repoRemote, "remote", "", "Remote to sync with (default: remote.name config)")
	repoCloneCmd.Flags().StringVar(&repoName, "name", "", "Override repository name (default: directory name)")

	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoCloneCmd)
	repoCmd.AddCommand(repoRemoveCmd)
	repoCmd.AddCommand(repoListCmd)
	repoCmd.AddCommand(repoShowCmd)
	rootCmd.AddCommand(repoCmd)
}

func repoAddRun(ctx context.Context, rawPath string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	// Resolve path
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	// Verify directory exists
	info, err := os.Stat(absPath)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("not a directory: %s", absPath)
	}

	gr, err := git.Open(absPath, gitOptions())
	if err != nil {
		return fmt.Errorf("%s: %w", absPath, err)
	}

	remote := repoRemote
	if remote == "" {
		remote = viper.GetString("remote.name")
	}
	remoteURL, err := gr.RemoteURL(remote)
	if err != nil {
		return fmt.Errorf("repository has no remote %q: %w", remote, err)
	}
	branch, _ := gr.CurrentBranch(ctx)

	r := &models.Repository{
		Name:      repoName,
		Path:      absPath,
		RemoteURL: remoteURL,
		Remote:    remote,
		Branch:    branch,
	}
	if r.Name == "" {
		r.Name = filepath.Base(absPath)
	}
	return register(ctx, s, r)
}

func repoCloneRun(ctx context.Context, url, dest string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if dest == "" {
		dest = strings.TrimSuffix(filepath.Base(strings.TrimRight(url, "/")), ".git")
	}
	absPath, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if _, err := os.Stat(absPath); err == nil {
		return fmt.Errorf("destination already exists: %s", absPath)
	}

	if dryRun {
		ui.DryRunMsg("Would clone %s into %s", auth.Redact(url), absPath)
		return nil
	}

	var creds repo.Credentials
	if auth.NeedsCredentials(url) {
		prompter := output.NewPrompter(ui, os.Stdin, "")
		chain := auth.NewChainProvider(append(configuredCredentials(), auth.NewPromptProvider(prompter.AskCredentials))...)
		if creds, err = chain.Credentials(ctx, url); err != nil && !errors.Is(err, auth.ErrNoCredentials) {
			return err
		}
	}
	proxy, err := configuredProxy().Proxy(ctx, url)
	if err != nil {
		return err
	}

	ui.Info("Cloning %s", auth.Redact(url))
	gr, err := git.Clone(ctx, url, absPath, creds, proxy, gitOptions())
	if err != nil {
		return err
	}
	branch, _ := gr.CurrentBranch(ctx)

	r := &models.Repository{
		Name:      repoName,
		Path:      absPath,
		RemoteURL: url,
		Remote:    repo.DefaultRemote,
		Branch:    branch,
	}
	if r.Name == "" {
		r.Name = filepath.Base(absPath)
	}
	return register(ctx, s, r)
}

func register(ctx context.Context, s store.Store, r *models.Repository) error {
	// Check if already registered
	if existing, err := s.GetRepositoryByPath(ctx, r.Path); err == nil {
		return fmt.Errorf("already registered as %s", output.Cyan(existing.Name))
	}

	if dryRun {
		ui.DryRunMsg("Would register repository: %s (%s)", r.Name, r.Path)
		return nil
	}

	if err := s.CreateRepository(ctx, r); err != nil {
		return fmt.Errorf("register repository: %w", err)
	}

	ui.Success("Registered repository: %s", output.Cyan(r.Name))
	ui.VerboseLog("Path: %s", r.Path)
	ui.VerboseLog("Remote: %s (%s)", r.Remote, auth.Redact(r.RemoteURL))
	return nil
}

func repoRemoveRun(ctx context.Context, nameOrPath string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	r, err := resolveRepository(ctx, s, nameOrPath)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would unregister repository: %s", r.Name)
		return nil
	}

	if err := s.DeleteRepository(ctx, r.ID); err != nil {
		return fmt.Errorf("remove repository: %w", err)
	}
	getRegistry().Close(r.Path)

	ui.Success("Removed repository: %s", output.Cyan(r.Name))
	return nil
}

func repoListRun(ctx context.Context) error {
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

	table := ui.Table([]string{"Name", "Path", "Remote", "Branch"})
	for _, r := range repos {
		_ = table.Append([]string{
			output.Cyan(r.Name),
			r.Path,
			auth.Redact(r.RemoteURL),
			r.Branch,
		})
	}
	return table.Render()
}

func repoShowRun(ctx context.Context, name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	r, err := resolveRepository(ctx, s, name)
	if err != nil {
		return err
	}

	// Header
	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(r.Name))
	fmt.Fprintf(ui.Out, "  Path:       %s\n", r.Path)
	fmt.Fprintf(ui.Out, "  Remote:     %s (%s)\n", r.Remote, auth.Redact(r.RemoteURL))
	fmt.Fprintln(ui.Out)

	// Git info
	if gr, err := git.Open(r.Path, gitOptions()); err == nil {
		if info, err := gr.Info(ctx, r.Remote); err == nil {
			fmt.Fprintf(ui.Out, "  Branch:     %s\n", info.Branch)
			status := output.Green("clean")
			if info.Dirty {
				status = output.Red("local changes")
			}
			fmt.Fprintf(ui.Out, "  Status:     %s\n", status)
			if info.Head != "" {
				fmt.Fprintf(ui.Out, "  Last commit: %s %s\n", output.ShortID(info.Head), info.LastCommitMessage)
				fmt.Fprintf(ui.Out, "  Activity:   %s\n", humanize.Time(info.LastCommitDate))
			}
			if info.RemoteURL != "" && info.RemoteURL != r.RemoteURL {
				ui.Warning("Remote %s now points at %s", r.Remote, auth.Redact(info.RemoteURL))
			}
		}
	} else {
		ui.Warning("Cannot open working copy: %v", err)
	}

	// Last sync
	if last, err := s.LastSyncRecord(ctx, r.ID); err == nil {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "  Last sync:  %s %s %s\n", last.Direction, output.StatusColor(string(last.Status)), humanize.Time(last.EndedAt))
		if last.PullResult != "" {
			fmt.Fprintf(ui.Out, "  Pull:       %s\n", output.PullColor(last.PullResult))
		}
		if last.Error != "" {
			fmt.Fprintf(ui.Out, "  Error:      %s\n", output.Red(last.Error))
		}
	}
	return nil
}
