package cmd

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/modelrepo/internal/auth"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "mr"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage mr configuration.

Running bare 'mr config' is the same as 'mr config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configKeys lists every key mr reads, in the order config show prints them.
// Secret keys are masked on display and left commented out by config init.
var configKeys = []struct {
	Key    string
	Secret bool
}{
	{Key: "state_dir"},
	{Key: "db_path"},
	{Key: "remote.name"},
	{Key: "remote.username"},
	{Key: "remote.password", Secret: true},
	{Key: "proxy.url"},
	{Key: "proxy.username"},
	{Key: "proxy.password", Secret: true},
	{Key: "conflicts.default"},
	{Key: "commit.author_name"},
	{Key: "commit.author_email"},
	{Key: "anthropic.api_key", Secret: true},
	{Key: "anthropic.model"},
	{Key: "log.level"},
}

// envVarFor names the environment variable viper binds key to.
func envVarFor(key string) string {
	return "MR_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

const configTemplate = `# mr configuration
# See: mr config show (for effective values and sources)

# State/data directory (default: ~/.config/mr)
# state_dir: {{ index . "state_dir" }}

# SQLite database path (default: ~/.config/mr/mr.db)
# db_path: {{ index . "db_path" }}

# Remote used by pull and push
remote:
  # Remote name in each working copy (default: "origin")
  name: "{{ index . "remote.name" }}"

  # Credentials for HTTP(S) remotes. Leave empty to be asked on first use.
  # ssh remotes use the ssh agent and key files instead.
  # For token-based hosts put the token in password and leave username empty.
  username: "{{ index . "remote.username" }}"
  # password: ""

# Transport proxy. When url is empty HTTPS_PROXY/HTTP_PROXY/NO_PROXY are used.
proxy:
  url: "{{ index . "proxy.url" }}"
  username: "{{ index . "proxy.username" }}"
  # password: ""

# Conflicts nobody decided on: "ours", "theirs" or "reject" (default: "ours")
conflicts:
  default: "{{ index . "conflicts.default" }}"

# Author of the commits mr creates
commit:
  author_name: "{{ index . "commit.author_name" }}"
  author_email: "{{ index . "commit.author_email" }}"

# Commit message suggestions (falls back to $ANTHROPIC_API_KEY)
anthropic:
  # api_key: ""
  model: "{{ index . "anthropic.model" }}"

# Diagnostic log level: debug, info, warn, error (default: "warn")
log:
  level: "{{ index . "log.level" }}"
`

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// renderConfig fills the template with the effective non-secret values.
func renderConfig() ([]byte, error) {
	values := make(map[string]string, len(configKeys))
	for _, k := range configKeys {
		if !k.Secret {
			values[k.Key] = viper.GetString(k.Key)
		}
	}
	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, values); err != nil {
		return nil, fmt.Errorf("render config template: %w", err)
	}
	return buf.Bytes(), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	content, err := renderConfig()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintf(ui.Out, "\n%s", content)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	// The file may later hold remote and proxy passwords.
	if err := os.WriteFile(cfgPath, content, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintf(ui.Out, "\n%s", content)
	return nil
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}

	fileValues := readConfigFileValues(cfgPath)
	table := ui.Table([]string{"Key", "Value", "Source"})
	for _, k := range configKeys {
		_ = table.Append([]string{k.Key, displayValue(k.Key, k.Secret), detectSource(k.Key, fileValues)})
	}
	if err := table.Render(); err != nil {
		return err
	}

	for _, problem := range configProblems() {
		ui.Warning("%s", problem)
	}
	return nil
}

// displayValue masks secrets and strips userinfo from the proxy URL.
func displayValue(key string, secret bool) string {
	val := viper.GetString(key)
	switch {
	case val == "":
		return "-"
	case secret:
		return "********"
	case key == "proxy.url":
		return auth.Redact(val)
	}
	return val
}

// configProblems reports values that would make pull and push fail.
func configProblems() []string {
	var problems []string
	if _, err := configuredPolicy(""); err != nil {
		problems = append(problems, fmt.Sprintf("conflicts.default: %v", err))
	}
	if raw := viper.GetString("proxy.url"); raw != "" {
		if u, err := url.Parse(raw); err != nil || u.Host == "" {
			problems = append(problems, "proxy.url: not an absolute URL such as http://proxy:8080")
		}
	}
	return problems
}

// readConfigFileValues returns the dot-notation keys present in the YAML file.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	flattenKeys("", parsed, result)
	return result
}

func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource reports where the effective value of key comes from.
func detectSource(key string, fileValues map[string]bool) string {
	if envVar := envVarFor(key); os.Getenv(envVar) != "" {
		return "env: " + envVar
	}
	if fileValues[key] {
		return "file"
	}
	return "default"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'mr config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
