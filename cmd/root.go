package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/modelrepo/internal/auth"
	"github.com/joescharf/modelrepo/internal/conflict"
	"github.com/joescharf/modelrepo/internal/git"
	"github.com/joescharf/modelrepo/internal/logging"
	"github.com/joescharf/modelrepo/internal/models"
	"github.com/joescharf/modelrepo/internal/output"
	"github.com/joescharf/modelrepo/internal/repo"
	"github.com/joescharf/modelrepo/internal/sessions"
	"github.com/joescharf/modelrepo/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    *slog.Logger
	dataStore store.Store
	registry  *repo.Registry

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "mr",
	Short: "Model Repository - sync locally edited models with a shared remote",
	Long: `mr keeps model repositories (git working copies holding model files)
in sync with a shared remote. It commits local edits, pulls and merges
remote changes, lets you decide conflicts path by path, and pushes.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	// Ctrl-C cancels a running sync session instead of killing it mid-merge.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	closeStore()
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/mr/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "mr")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "mr"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers the default of every config key.
func setDefaults(configDir string) {
	viper.SetDefault("state_dir", configDir)
	viper.SetDefault("db_path", filepath.Join(configDir, "mr.db"))
	viper.SetDefault("remote.name", repo.DefaultRemote)
	viper.SetDefault("remote.username", "")
	viper.SetDefault("remote.password", "")
	viper.SetDefault("proxy.url", "")
	viper.SetDefault("proxy.username", "")
	viper.SetDefault("proxy.password", "")
	viper.SetDefault("conflicts.default", string(conflict.PolicyOurs))
	viper.SetDefault("commit.author_name", git.DefaultAuthorName)
	viper.SetDefault("commit.author_email", git.DefaultAuthorEmail)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("log.level", "warn")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level, err := logging.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		ui.Warning("%v, using info", err)
	}
	if verbose && level > slog.LevelDebug {
		level = slog.LevelDebug
	}
	logger = logging.New(os.Stderr, level)

	// Initialize store lazily, only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// rootRun handles `mr` with no subcommand: show the status of the
// repository in the current directory.
func rootRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return cmd.Help()
	}

	cwd, err := os.Getwd()
	if err != nil {
		return cmd.Help()
	}
	r, err := s.GetRepositoryByPath(cmd.Context(), cwd)
	if err != nil {
		return cmd.Help()
	}
	return repoShowRun(cmd.Context(), r.Name)
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// closeStore closes the shared store and forgets the open handles.
func closeStore() {
	if dataStore != nil {
		_ = dataStore.Close()
		dataStore = nil
	}
	registry = nil
}

func gitOptions() git.Options {
	return git.Options{
		AuthorName:  viper.GetString("commit.author_name"),
		AuthorEmail: viper.GetString("commit.author_email"),
		Logger:      logger,
	}
}

// getRegistry returns the process registry of open repository handles.
func getRegistry() *repo.Registry {
	if registry == nil {
		registry = repo.NewRegistry(func(path string) (repo.Engine, error) {
			return git.Open(path, gitOptions())
		})
	}
	return registry
}

// openHandle opens the handle of a registered repository.
func openHandle(r *models.Repository) (*repo.Handle, error) {
	return getRegistry().Open(r.Path, r.RemoteURL, repo.WithRemote(r.Remote))
}

// configuredCredentials is the credential chain without interactive prompting.
func configuredCredentials() []auth.CredentialProvider {
	return []auth.CredentialProvider{
		auth.NewStaticProvider(viper.GetString("remote.username"), viper.GetString("remote.password")),
	}
}

func configuredProxy() auth.ProxyResolver {
	return auth.FirstProxy{
		&auth.StaticProxy{Config: repo.ProxyConfig{
			URL:      viper.GetString("proxy.url"),
			Username: viper.GetString("proxy.username"),
			Password: viper.GetString("proxy.password"),
		}},
		auth.EnvProxy{},
	}
}

// configuredPolicy returns the conflict policy, overridden by override when set.
func configuredPolicy(override string) (conflict.Policy, error) {
	if override != "" {
		return conflict.ParsePolicy(override)
	}
	return conflict.ParsePolicy(viper.GetString("conflicts.default"))
}

// newManager builds the session manager wired to the configured providers,
// the history store and the commit message suggester.
func newManager(p sessions.Prompter, creds auth.CredentialProvider, policy conflict.Policy) (*sessions.Manager, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	opts := []sessions.Option{
		sessions.WithCredentials(creds),
		sessions.WithProxy(configuredProxy()),
		sessions.WithRecorder(s),
		sessions.WithPolicy(policy),
		sessions.WithLogger(logger),
	}
	if sg := newSuggester(); sg != nil {
		opts = append(opts, sessions.WithSuggester(sg))
	}
	return sessions.NewManager(p, opts...), nil
}

// resolveRepository tries to find a repository by name, then by ID, then by path.
func resolveRepository(ctx context.Context, s store.Store, nameOrPath string) (*models.Repository, error) {
	if r, err := s.GetRepositoryByName(ctx, nameOrPath); err == nil {
		return r, nil
	}
	if r, err := s.GetRepository(ctx, nameOrPath); err == nil {
		return r, nil
	}

	// Try by path
	absPath, _ := filepath.Abs(nameOrPath)
	if r, err := s.GetRepositoryByPath(ctx, absPath); err == nil {
		return r, nil
	}

	return nil, fmt.Errorf("repository not found: %s", nameOrPath)
}

// resolveRepositoryArg resolves the optional repository argument, defaulting
// to the current directory.
func resolveRepositoryArg(ctx context.Context, s store.Store, args []string) (*models.Repository, error) {
	if len(args) > 0 {
		return resolveRepository(ctx, s, args[0])
	}
	return resolveRepository(ctx, s, ".")
}
