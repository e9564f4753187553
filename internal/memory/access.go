package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/open-policy-agent/opa/rego"
)

// AccessEngine evaluates the namespace read capability: given a
// namespace and the requesting agent's id, may the request read from
// that namespace? Global, learned, and policy are readable by anyone;
// an agent namespace only by its owner. The rule is an OPA policy so
// deployments can tighten it without a rebuild.
type AccessEngine struct {
	mu    sync.RWMutex
	query *rego.PreparedEvalQuery
	src   string
}

const defaultAccessRego = `
package membank.access

import future.keywords.if

default allow = false

# Shared namespaces are readable by any caller.
allow if {
    input.namespace.kind != "agent"
}

# Agent namespaces are readable only by their owner.
allow if {
    input.namespace.kind == "agent"
    input.namespace.agent_id == input.requesting_agent_id
}
`

// NewAccessEngine compiles the built-in access policy, or the policy
// in policyDir/access.rego when policyDir is non-empty.
func NewAccessEngine(ctx context.Context, policyDir string) (*AccessEngine, error) {
	src := defaultAccessRego
	if policyDir != "" {
		path := filepath.Join(policyDir, "access.rego")
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("access policy: read %s: %w", path, err)
		}
		src = string(raw)
		log.Info("Loaded access policy override", "path", path)
	}

	e := &AccessEngine{}
	if err := e.update(ctx, src); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *AccessEngine) update(ctx context.Context, src string) error {
	prepared, err := rego.New(
		rego.Query("data.membank.access.allow"),
		rego.Module("access.rego", src),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("access policy: compile: %w", err)
	}
	e.mu.Lock()
	e.query = &prepared
	e.src = src
	e.mu.Unlock()
	return nil
}

// CanQuery reports whether requestingAgentID may read from ns.
func (e *AccessEngine) CanQuery(ctx context.Context, ns Namespace, requestingAgentID string) (bool, error) {
	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()
	if query == nil {
		return false, fmt.Errorf("access policy not initialized")
	}

	input := map[string]interface{}{
		"namespace": map[string]interface{}{
			"kind":     string(ns.Kind),
			"agent_id": ns.AgentID,
		},
		"requesting_agent_id": requestingAgentID,
	}
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("access policy: eval: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := results[0].Expressions[0].Value.(bool)
	return allowed, nil
}
