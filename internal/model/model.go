// Package model defines the data types shared across the memory and
// policy stores, plus the error taxonomy returned to callers.
package model

import (
	"time"
)

// MemoryRecord is one stored memory item. A record is immutable once
// written; a changed text produces a new record (and is subject to
// duplicate suppression) rather than an in-place vector edit.
type MemoryRecord struct {
	// ID is a deterministic content-derived UUID string.
	ID string `json:"id"`

	// Namespace is the logical partition the record belongs to
	// (global, learned, agent:<id>, policy).
	Namespace string `json:"namespace"`

	// Text is the cleaned source content that was embedded.
	Text string `json:"text"`

	// Metadata carries auxiliary fields: source path, description,
	// lesson_type, agent_id when applicable.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is when the record was written.
	CreatedAt time.Time `json:"createdAt"`
}

// ScoredRecord pairs a record with its similarity score for a query.
type ScoredRecord struct {
	Record MemoryRecord `json:"record"`
	Score  float64      `json:"score"`
}

// AddStatus reports the outcome of a memory add.
type AddStatus string

const (
	// StatusAdded means a new record was persisted.
	StatusAdded AddStatus = "added"
	// StatusDuplicate means a near-duplicate already existed and no
	// write occurred. Not a failure.
	StatusDuplicate AddStatus = "duplicate"
)

// AddResult is the outcome of Store.Add. When Status is
// StatusDuplicate, ID refers to the pre-existing record and Score is
// its similarity to the rejected text.
type AddResult struct {
	Status AddStatus `json:"status"`
	ID     string    `json:"id"`
	Score  float64   `json:"score,omitempty"`
}

// RuleCategory classifies a policy rule.
type RuleCategory string

const (
	CategoryPrinciple       RuleCategory = "principle"
	CategoryForbiddenAction RuleCategory = "forbidden_action"
	CategoryRequirement     RuleCategory = "requirement"
	CategoryStyleGuide      RuleCategory = "style_guide"
)

// Categories lists all rule categories a policy document must declare.
func Categories() []RuleCategory {
	return []RuleCategory{
		CategoryPrinciple,
		CategoryForbiddenAction,
		CategoryRequirement,
		CategoryStyleGuide,
	}
}

// PolicyRule is one governance rule from the policy document.
type PolicyRule struct {
	// RuleID is the stable identifier from the document (e.g. "SEC-001").
	RuleID string `json:"rule_id" yaml:"id"`

	// Category is one of the four rule categories.
	Category RuleCategory `json:"category" yaml:"-"`

	// Text is the rule body.
	Text string `json:"text" yaml:"text"`

	// VersionHash is the digest of the full document version this rule
	// was loaded from. All rules of one load share one hash.
	VersionHash string `json:"version_hash" yaml:"-"`
}

// Outcome classifies the result of a compliance check.
type Outcome string

const (
	OutcomeCompliant Outcome = "compliant"
	OutcomeViolation Outcome = "violation"
	OutcomeAdvisory  Outcome = "advisory"
)

// Bookkeeping records carry a record_type metadata entry so reads can
// tell them apart from agent memories.
const (
	MetadataRecordType      = "record_type"
	RecordTypeVersionMarker = "version_marker"
)

// Decision is the result of a policy compliance check.
type Decision struct {
	Outcome Outcome `json:"outcome"`

	// Matched lists the rules that drove the decision, highest score first.
	Matched []MatchedRule `json:"matched,omitempty"`
}

// MatchedRule is one policy rule retrieved during a compliance check.
type MatchedRule struct {
	RuleID   string       `json:"rule_id"`
	Category RuleCategory `json:"category"`
	Text     string       `json:"text"`
	Score    float64      `json:"score"`
}

// ComplianceEvent is one append-only audit entry for a compliance
// check. Events are never mutated or deleted by the core.
type ComplianceEvent struct {
	AgentID           string    `json:"agent_id"`
	RuleID            string    `json:"rule_id,omitempty"`
	ActionDescription string    `json:"action_description"`
	Outcome           Outcome   `json:"outcome"`
	Timestamp         time.Time `json:"timestamp"`
}
