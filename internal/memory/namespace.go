// Package memory implements the memory store core: logical namespaces
// mapped onto vector collections, duplicate detection, similarity
// search, and cross-namespace query routing.
package memory

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind enumerates the logical memory partitions.
type Kind string

const (
	KindGlobal  Kind = "global"
	KindLearned Kind = "learned"
	KindAgent   Kind = "agent"
	KindPolicy  Kind = "policy"
)

// Namespace is a logical memory partition. Agent namespaces carry the
// owning agent's id; the other kinds do not.
type Namespace struct {
	Kind    Kind
	AgentID string
}

var (
	Global  = Namespace{Kind: KindGlobal}
	Learned = Namespace{Kind: KindLearned}
	Policy  = Namespace{Kind: KindPolicy}
)

// Agent returns the namespace owned by the given agent.
func Agent(agentID string) Namespace {
	return Namespace{Kind: KindAgent, AgentID: agentID}
}

// ParseNamespace parses "global", "learned", "policy", or "agent:<id>".
func ParseNamespace(s string) (Namespace, error) {
	switch s {
	case "global":
		return Global, nil
	case "learned":
		return Learned, nil
	case "policy":
		return Policy, nil
	}
	if id, ok := strings.CutPrefix(s, "agent:"); ok {
		if strings.TrimSpace(id) == "" {
			return Namespace{}, fmt.Errorf("agent namespace requires an agent id")
		}
		return Agent(id), nil
	}
	return Namespace{}, fmt.Errorf("unknown namespace %q; valid: global, learned, policy, agent:<id>", s)
}

func (n Namespace) String() string {
	if n.Kind == KindAgent {
		return "agent:" + n.AgentID
	}
	return string(n.Kind)
}

// CollectionName maps the namespace onto its physical collection.
func (n Namespace) CollectionName() string {
	switch n.Kind {
	case KindGlobal:
		return "global_memory"
	case KindLearned:
		return "learned_memory"
	case KindPolicy:
		return "policy_rules"
	case KindAgent:
		return "agent_specific_memory_" + sanitizeAgentID(n.AgentID)
	}
	return ""
}

// WellKnownCollections lists the collections that exist independently
// of any particular agent. Agent collections are created lazily on
// first write.
func WellKnownCollections() []string {
	return []string{
		Global.CollectionName(),
		Learned.CollectionName(),
		Policy.CollectionName(),
	}
}

// contentNamespaceUUID seeds deterministic content-derived record IDs
// so the same text always maps to the same point id, preserving
// deduplication across restarts.
var contentNamespaceUUID = uuid.MustParse("12345678-1234-5678-1234-123456789abc")

// ContentID returns the deterministic UUID for a text.
func ContentID(text string) string {
	return uuid.NewSHA1(contentNamespaceUUID, []byte(text)).String()
}

// sanitizeAgentID keeps collection names within [a-z0-9_-].
func sanitizeAgentID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
