// Package policy implements the governed rule corpus: schema-validated
// policy documents, content-hash versioning, similarity-based
// compliance checks, and append-only audit logging.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/membank/membank/internal/model"
	"gopkg.in/yaml.v3"
)

// ruleIDPattern is the required shape of rule identifiers, e.g. "SEC-001".
var ruleIDPattern = regexp.MustCompile(`^[A-Z]+-\d+$`)

// categoryKeys maps document keys onto rule categories, in the fixed
// order used for hash normalization.
var categoryKeys = []struct {
	key      string
	category model.RuleCategory
}{
	{"principles", model.CategoryPrinciple},
	{"forbidden_actions", model.CategoryForbiddenAction},
	{"requirements", model.CategoryRequirement},
	{"style_guides", model.CategoryStyleGuide},
}

type docRule struct {
	ID   string `yaml:"id"`
	Text string `yaml:"text"`
}

// Document is one validated, immutable policy document version.
type Document struct {
	// Rules holds every rule with its category set. All rules share
	// the document's VersionHash.
	Rules []model.PolicyRule

	// VersionHash is the SHA-256 digest of the normalized rule set.
	VersionHash string
}

// LoadDocument reads and validates a YAML policy document. Any missing
// category, malformed rule id, or empty rule text fails the whole load
// with a *model.SchemaError; there is no partial policy activation.
func LoadDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy document: read %s: %w", path, err)
	}
	return ParseDocument(raw)
}

// ParseDocument validates raw YAML policy content.
func ParseDocument(raw []byte) (*Document, error) {
	var byCategory map[string][]docRule
	if err := yaml.Unmarshal(raw, &byCategory); err != nil {
		return nil, &model.SchemaError{Field: "document", Message: fmt.Sprintf("invalid YAML: %v", err)}
	}

	known := map[string]bool{}
	for _, ck := range categoryKeys {
		known[ck.key] = true
		if _, ok := byCategory[ck.key]; !ok {
			return nil, &model.SchemaError{Field: ck.key, Message: "category is missing"}
		}
	}
	for key := range byCategory {
		if !known[key] {
			return nil, &model.SchemaError{Field: key, Message: "unknown category"}
		}
	}

	var rules []model.PolicyRule
	seen := map[string]bool{}
	for _, ck := range categoryKeys {
		for i, r := range byCategory[ck.key] {
			where := fmt.Sprintf("%s[%d]", ck.key, i)
			if r.ID == "" {
				return nil, &model.SchemaError{Field: where, Message: "rule id is missing"}
			}
			if !ruleIDPattern.MatchString(r.ID) {
				return nil, &model.SchemaError{Field: where, Message: fmt.Sprintf("rule id %q does not match %s", r.ID, ruleIDPattern)}
			}
			if strings.TrimSpace(r.Text) == "" {
				return nil, &model.SchemaError{Field: where, Message: fmt.Sprintf("rule %s has no text", r.ID)}
			}
			if seen[r.ID] {
				return nil, &model.SchemaError{Field: where, Message: fmt.Sprintf("duplicate rule id %s", r.ID)}
			}
			seen[r.ID] = true
			rules = append(rules, model.PolicyRule{
				RuleID:   r.ID,
				Category: ck.category,
				Text:     strings.TrimSpace(r.Text),
			})
		}
	}

	hash := hashRules(rules)
	for i := range rules {
		rules[i].VersionHash = hash
	}
	return &Document{Rules: rules, VersionHash: hash}, nil
}

// hashRules digests the normalized rule set: categories in fixed
// order, rules sorted by id within a category, one line per rule. The
// digest is stable across YAML formatting changes and rule reordering,
// and changes when any rule's id, category, or text changes.
func hashRules(rules []model.PolicyRule) string {
	sorted := make([]model.PolicyRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Category != sorted[j].Category {
			return sorted[i].Category < sorted[j].Category
		}
		return sorted[i].RuleID < sorted[j].RuleID
	})

	h := sha256.New()
	for _, r := range sorted {
		fmt.Fprintf(h, "%s\x00%s\x00%s\n", r.Category, r.RuleID, r.Text)
	}
	return hex.EncodeToString(h.Sum(nil))
}
