package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/modelrepo/internal/conflict"
	"github.com/joescharf/modelrepo/internal/models"
	"github.com/joescharf/modelrepo/internal/repo"
	"github.com/joescharf/modelrepo/internal/sessions"
	"github.com/joescharf/modelrepo/internal/store"
)

// ManagerFactory builds the session manager for one tool call around the
// prompter answering it.
type ManagerFactory func(p sessions.Prompter) *sessions.Manager

// Server wraps the repository registry and exposes it as MCP tools.
type Server struct {
	store    store.Store
	registry *repo.Registry
	managers ManagerFactory
	version  string
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(s store.Store, reg *repo.Registry, mf ManagerFactory, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{
		store:    s,
		registry: reg,
		managers: mf,
		version:  version,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("mr", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listReposTool())
	srv.AddTool(s.repoStatusTool())
	srv.AddTool(s.syncHistoryTool())
	srv.AddTool(s.pullTool())
	srv.AddTool(s.pushTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

type repoOut struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	RemoteURL string `json:"remote_url"`
	Remote    string `json:"remote"`
	Branch    string `json:"branch"`
}

func toRepoOut(r *models.Repository) repoOut {
	return repoOut{
		ID:        r.ID,
		Name:      r.Name,
		Path:      r.Path,
		RemoteURL: r.RemoteURL,
		Remote:    r.Remote,
		Branch:    r.Branch,
	}
}

type syncOut struct {
	ID         string   `json:"id"`
	Direction  string   `json:"direction"`
	Status     string   `json:"status"`
	Phase      string   `json:"phase"`
	PullResult string   `json:"pull_result,omitempty"`
	Conflicts  []string `json:"conflicts,omitempty"`
	Theirs     []string `json:"theirs,omitempty"`
	Defaulted  []string `json:"defaulted,omitempty"`
	CommitID   string   `json:"commit_id,omitempty"`
	Error      string   `json:"error,omitempty"`
	StartedAt  string   `json:"started_at"`
	EndedAt    string   `json:"ended_at"`
}

func toSyncOut(rec *models.SyncRecord) syncOut {
	return syncOut{
		ID:         rec.ID,
		Direction:  string(rec.Direction),
		Status:     string(rec.Status),
		Phase:      rec.Phase,
		PullResult: rec.PullResult,
		Conflicts:  rec.Conflicts,
		Theirs:     rec.Theirs,
		Defaulted:  rec.Defaulted,
		CommitID:   rec.CommitID,
		Error:      rec.Error,
		StartedAt:  rec.StartedAt.Format(time.RFC3339),
		EndedAt:    rec.EndedAt.Format(time.RFC3339),
	}
}

func jsonResult(v any, what string) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal %s: %v", what, err))
	}
	return mcp.NewToolResultText(string(data))
}

// mr_list_repos
func (s *Server) listReposTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mr_list_repos",
		mcp.WithDescription("List all registered model repositories. Returns a JSON array with id, name, path, remote_url, remote, and branch."),
	)
	return tool, s.handleListRepos
}

func (s *Server) handleListRepos(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repos, err := s.store.ListRepositories(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list repositories: %v", err)), nil
	}

	out := make([]repoOut, len(repos))
	for i, r := range repos {
		out[i] = toRepoOut(r)
	}
	return jsonResult(out, "repositories"), nil
}

// mr_repo_status
func (s *Server) repoStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mr_repo_status",
		mcp.WithDescription("Get the working copy status of a repository: branch, HEAD, local changes, active sync session, and the last sync result. Resolves the repository by name, id, or path."),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository name, id, or path")),
	)
	return tool, s.handleRepoStatus
}

func (s *Server) handleRepoStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("repo")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: repo"), nil
	}
	r, err := s.resolveRepository(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	h, err := s.open(r)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to open repository: %v", err)), nil
	}

	// Working copy details are best-effort.
	eng := h.Engine()
	branch, _ := eng.CurrentBranch(ctx)
	head, _ := eng.Head(ctx)
	dirty, _ := eng.HasLocalChanges(ctx)
	var changed []string
	if dirty {
		changed, _ = eng.ChangedPaths(ctx)
	}

	result := map[string]any{
		"repository": toRepoOut(r),
		"working_copy": map[string]any{
			"branch":  branch,
			"head":    head,
			"dirty":   dirty,
			"changed": changed,
		},
		"active_session": h.LockOwner(),
	}
	if last, err := s.store.LastSyncRecord(ctx, r.ID); err == nil {
		result["last_sync"] = toSyncOut(last)
	}
	return jsonResult(result, "status"), nil
}

// mr_sync_history
func (s *Server) syncHistoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mr_sync_history",
		mcp.WithDescription("List past pull and push sessions of a repository, newest first."),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository name, id, or path")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 20)")),
	)
	return tool, s.handleSyncHistory
}

func (s *Server) handleSyncHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("repo")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: repo"), nil
	}
	r, err := s.resolveRepository(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	limit := request.GetInt("limit", 20)
	recs, err := s.store.ListSyncRecords(ctx, r.ID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sync history: %v", err)), nil
	}

	out := make([]syncOut, len(recs))
	for i, rec := range recs {
		out[i] = toSyncOut(rec)
	}
	return jsonResult(out, "sync history"), nil
}

func syncOptions(verb string) []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository name, id, or path")),
		mcp.WithString("message", mcp.Description("Commit message for local changes. Defaults to a suggested or generated message.")),
		mcp.WithString("theirs", mcp.Description("Comma-separated conflicting paths to resolve with the remote version, or * for all. Other conflicts keep the local version unless the configured policy says otherwise.")),
		mcp.WithDescription(verb),
	}
}

// mr_pull
func (s *Server) pullTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mr_pull", syncOptions(
		"Commit local changes, fetch the remote and merge it into the working copy. Conflicts are resolved with the theirs parameter. Returns the session outcome.")...)
	return tool, s.syncHandler(sessions.DirectionPull)
}

// mr_push
func (s *Server) pushTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mr_push", syncOptions(
		"Pull (see mr_pull) and, only if the pull succeeded, push the result to the remote. Returns the session outcome.")...)
	return tool, s.syncHandler(sessions.DirectionPush)
}

func (s *Server) syncHandler(dir sessions.Direction) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := request.RequireString("repo")
		if err != nil {
			return mcp.NewToolResultError("missing required parameter: repo"), nil
		}
		r, err := s.resolveRepository(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		h, err := s.open(r)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to open repository: %v", err)), nil
		}

		p := newAgentPrompter(request.GetString("message", ""), request.GetString("theirs", ""))
		mgr := s.managers(p)

		var out *sessions.Outcome
		if dir == sessions.DirectionPush {
			out, err = mgr.RunPush(ctx, h)
		} else {
			out, err = mgr.RunPull(ctx, h)
		}
		if errors.Is(err, repo.ErrSessionBusy) {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %v", r.Name, err)), nil
		}
		if out == nil {
			return mcp.NewToolResultError(fmt.Sprintf("sync failed: %v", err)), nil
		}

		result := map[string]any{
			"repository":      r.Name,
			"session":         toSyncOut(out.Record()),
			"merge_commit_id": out.MergeCommitID,
		}
		res := jsonResult(result, "outcome")
		if out.Status == sessions.StatusError {
			res.IsError = true
		}
		return res, nil
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// resolveRepository tries to find a repository by name first, then by ID,
// then by path.
func (s *Server) resolveRepository(ctx context.Context, name string) (*models.Repository, error) {
	if r, err := s.store.GetRepositoryByName(ctx, name); err == nil {
		return r, nil
	}
	if r, err := s.store.GetRepository(ctx, name); err == nil {
		return r, nil
	}
	if r, err := s.store.GetRepositoryByPath(ctx, name); err == nil {
		return r, nil
	}
	return nil, fmt.Errorf("repository not found: %s", name)
}

func (s *Server) open(r *models.Repository) (*repo.Handle, error) {
	return s.registry.Open(r.Path, r.RemoteURL, repo.WithRemote(r.Remote))
}

// agentPrompter answers session prompts from tool parameters.
type agentPrompter struct {
	message   string
	theirs    []string
	allTheirs bool
}

var _ sessions.Prompter = (*agentPrompter)(nil)

func newAgentPrompter(message, theirs string) *agentPrompter {
	p := &agentPrompter{message: strings.TrimSpace(message)}
	for _, part := range strings.Split(theirs, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
		case "*":
			p.allTheirs = true
		default:
			p.theirs = append(p.theirs, part)
		}
	}
	return p
}

// An agent has no editor open, so there is never anything to save.
func (p *agentPrompter) PromptSave(context.Context) (bool, error) { return false, nil }

func (p *agentPrompter) PromptCommitMessage(_ context.Context, changed []string, suggestion string) (string, bool, error) {
	switch {
	case p.message != "":
		return p.message, true, nil
	case suggestion != "":
		return suggestion, true, nil
	default:
		return defaultMessage(changed), true, nil
	}
}

func (p *agentPrompter) PresentConflicts(_ context.Context, set *conflict.Set) (*conflict.Set, error) {
	if p.allTheirs {
		for _, path := range set.Paths() {
			_ = set.Toggle(path, true)
		}
		return set, nil
	}
	for _, path := range p.theirs {
		if err := set.Toggle(path, true); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// The failure is returned in the tool result.
func (p *agentPrompter) DisplayError(context.Context, sessions.Phase, error) {}

func defaultMessage(changed []string) string {
	const shown = 3
	if len(changed) == 0 {
		return "Update model"
	}
	if len(changed) <= shown {
		return "Update " + strings.Join(changed, ", ")
	}
	return fmt.Sprintf("Update %s and %d more", strings.Join(changed[:shown], ", "), len(changed)-shown)
}
