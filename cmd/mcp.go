package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/modelrepo/internal/auth"
	"github.com/joescharf/modelrepo/internal/mcp"
	"github.com/joescharf/modelrepo/internal/sessions"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an agent list repositories, read their sync status and history,
and run pull or push sessions. Configure in Claude Code with:

  {
    "mcpServers": {
      "mr": { "command": "mr", "args": ["mcp"] }
    }
  }

Credentials come from configuration only; the server never prompts.

Available tools: mr_list_repos, mr_repo_status, mr_sync_history,
mr_pull, mr_push`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		policy, err := configuredPolicy("")
		if err != nil {
			return err
		}
		creds := auth.NewChainProvider(configuredCredentials()...)

		factory := func(p sessions.Prompter) *sessions.Manager {
			// getStore already succeeded above, so newManager cannot fail here.
			m, _ := newManager(p, creds, policy)
			return m
		}

		srv := mcp.NewServer(s, getRegistry(), factory, buildVersion)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
