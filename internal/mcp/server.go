// Package mcp exposes the memory and policy operations as MCP tools
// over stdio. It is a thin adapter: all semantics live in the memory
// and policy packages.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/membank/membank/internal/memory"
	"github.com/membank/membank/internal/policy"
	registryvector "github.com/membank/membank/internal/registry/vector"
)

// Server wires the core stores into an MCP server.
type Server struct {
	store          *memory.Store
	router         *memory.Router
	policies       *policy.Store
	vector         registryvector.VectorStore
	defaultAgentID string
}

// NewServer creates the MCP adapter. policies may be nil when no
// policy document is configured; policy tools then report an error
// while memory tools keep working.
func NewServer(store *memory.Store, router *memory.Router, policies *policy.Store, vector registryvector.VectorStore, defaultAgentID string) *Server {
	return &Server{
		store:          store,
		router:         router,
		policies:       policies,
		vector:         vector,
		defaultAgentID: defaultAgentID,
	}
}

// ServeStdio registers all tools and serves the MCP protocol on
// stdin/stdout until the client disconnects or ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := server.NewMCPServer("membank", "1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.registerTools(srv)
	return server.NewStdioServer(srv).Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) registerTools(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("add_memory",
		mcp.WithDescription("Store a memory in a namespace (global, learned, policy, or agent:<id>). Near-duplicates are suppressed."),
		mcp.WithString("namespace", mcp.Required(), mcp.Description("Target namespace")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Content to store")),
		mcp.WithObject("metadata", mcp.Description("Auxiliary string fields (source, description, lesson_type, ...)")),
		mcp.WithNumber("similarity_threshold", mcp.Description("Per-call duplicate threshold override")),
	), s.handleAddMemory)

	srv.AddTool(mcp.NewTool("search_memory",
		mcp.WithDescription("Similarity search within one namespace."),
		mcp.WithString("namespace", mcp.Required()),
		mcp.WithString("query", mcp.Required()),
		mcp.WithNumber("max_results"),
	), s.handleSearchMemory)

	srv.AddTool(mcp.NewTool("query_all_memories",
		mcp.WithDescription("Similarity search across global, learned, and the requesting agent's own namespace."),
		mcp.WithString("query", mcp.Required()),
		mcp.WithString("agent_id", mcp.Description("Requesting agent; defaults to the configured agent id")),
		mcp.WithNumber("max_results"),
	), s.handleQueryAll)

	srv.AddTool(mcp.NewTool("set_agent_context",
		mcp.WithDescription("Upsert a context record into an agent's own namespace."),
		mcp.WithString("agent_id", mcp.Required()),
		mcp.WithString("text", mcp.Required()),
		mcp.WithObject("metadata"),
	), s.handleSetAgentContext)

	srv.AddTool(mcp.NewTool("compare_against_learned",
		mcp.WithDescription("Rank learned lessons against an action about to be taken (risk check)."),
		mcp.WithString("action_description", mcp.Required()),
		mcp.WithNumber("max_results"),
	), s.handleCompareAgainstLearned)

	srv.AddTool(mcp.NewTool("get_memory",
		mcp.WithDescription("Fetch one memory by id."),
		mcp.WithString("namespace", mcp.Required()),
		mcp.WithString("id", mcp.Required()),
	), s.handleGetMemory)

	srv.AddTool(mcp.NewTool("delete_memory",
		mcp.WithDescription("Delete one memory by id."),
		mcp.WithString("namespace", mcp.Required()),
		mcp.WithString("id", mcp.Required()),
	), s.handleDeleteMemory)

	srv.AddTool(mcp.NewTool("check_policy_compliance",
		mcp.WithDescription("Classify an action against the policy rules: compliant, advisory, or violation. Every check is audit-logged."),
		mcp.WithString("action_description", mcp.Required()),
		mcp.WithString("agent_id"),
	), s.handleCheckPolicy)

	srv.AddTool(mcp.NewTool("reload_policy",
		mcp.WithDescription("Re-read the policy document and reindex rules if the version hash changed."),
	), s.handleReloadPolicy)

	srv.AddTool(mcp.NewTool("system_health",
		mcp.WithDescription("Report vector backend reachability, embedding model, and policy version."),
	), s.handleSystemHealth)
}

func (s *Server) handleAddMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nsRaw, err := req.RequireString("namespace")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ns, err := memory.ParseNamespace(nsRaw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var opts memory.AddOptions
	// Presence decides whether the default threshold is overridden, so
	// an explicit 0 is honored rather than treated as unset.
	if _, ok := req.GetArguments()["similarity_threshold"]; ok {
		t := req.GetFloat("similarity_threshold", 0)
		opts.Threshold = &t
	}
	result, err := s.store.Add(ctx, ns, text, stringMap(req.GetArguments()["metadata"]), opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleSearchMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nsRaw, err := req.RequireString("namespace")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ns, err := memory.ParseNamespace(nsRaw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.store.Query(ctx, ns, query, req.GetInt("max_results", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) handleQueryAll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agentID := req.GetString("agent_id", s.defaultAgentID)
	results, err := s.router.QueryAll(ctx, query, req.GetInt("max_results", 0), agentID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) handleSetAgentContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.store.SetAgentContext(ctx, agentID, text, stringMap(req.GetArguments()["metadata"]))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleCompareAgainstLearned(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action_description")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.store.CompareAgainstLearned(ctx, action, req.GetInt("max_results", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) handleGetMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nsRaw, err := req.RequireString("namespace")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ns, err := memory.ParseNamespace(nsRaw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	record, err := s.store.Get(ctx, ns, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(record)
}

func (s *Server) handleDeleteMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nsRaw, err := req.RequireString("namespace")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ns, err := memory.ParseNamespace(nsRaw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.store.Delete(ctx, ns, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted %s", id)), nil
}

func (s *Server) handleCheckPolicy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.policies == nil {
		return mcp.NewToolResultError("no policy document configured"), nil
	}
	action, err := req.RequireString("action_description")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	decision, err := s.policies.Check(ctx, action, req.GetString("agent_id", s.defaultAgentID))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(decision)
}

func (s *Server) handleReloadPolicy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.policies == nil {
		return mcp.NewToolResultError("no policy document configured"), nil
	}
	if err := s.policies.Sync(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("policy version " + s.policies.VersionHash()), nil
}

func (s *Server) handleSystemHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	health := map[string]interface{}{
		"vector_store":    s.vector.Name(),
		"embedding_model": s.store.Embedder().ModelName(),
		"dimension":       s.store.Embedder().Dimension(),
	}
	if _, err := s.vector.CollectionExists(ctx, memory.Global.CollectionName()); err != nil {
		health["vector_status"] = "unreachable"
		health["vector_error"] = err.Error()
	} else {
		health["vector_status"] = "healthy"
	}
	if s.policies != nil {
		health["policy_version"] = s.policies.VersionHash()
	}
	return jsonResult(health)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// stringMap coerces a tool argument object into string-valued metadata.
func stringMap(arg interface{}) map[string]string {
	obj, ok := arg.(map[string]interface{})
	if !ok || len(obj) == 0 {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		out[k] = fmt.Sprint(v)
	}
	return out
}
