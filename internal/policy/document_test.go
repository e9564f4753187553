package policy

import (
	"testing"

	"github.com/membank/membank/internal/model"
	"github.com/stretchr/testify/require"
)

const validDoc = `
principles:
  - id: GOV-1
    text: prefer reversible changes
forbidden_actions:
  - id: SEC-1
    text: delete production database
requirements:
  - id: REQ-1
    text: code changes require peer review
style_guides:
  - id: STY-1
    text: use descriptive variable names
`

func TestParseDocument_Valid(t *testing.T) {
	doc, err := ParseDocument([]byte(validDoc))
	require.NoError(t, err)
	require.Len(t, doc.Rules, 4)
	require.NotEmpty(t, doc.VersionHash)

	byID := map[string]model.PolicyRule{}
	for _, r := range doc.Rules {
		byID[r.RuleID] = r
		require.Equal(t, doc.VersionHash, r.VersionHash)
	}
	require.Equal(t, model.CategoryPrinciple, byID["GOV-1"].Category)
	require.Equal(t, model.CategoryForbiddenAction, byID["SEC-1"].Category)
	require.Equal(t, model.CategoryRequirement, byID["REQ-1"].Category)
	require.Equal(t, model.CategoryStyleGuide, byID["STY-1"].Category)
}

func TestParseDocument_MissingCategory(t *testing.T) {
	raw := `
principles:
  - id: GOV-1
    text: prefer reversible changes
forbidden_actions: []
requirements: []
`
	_, err := ParseDocument([]byte(raw))
	var schemaErr *model.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.Equal(t, "style_guides", schemaErr.Field)
}

func TestParseDocument_UnknownCategory(t *testing.T) {
	raw := validDoc + `
recommendations:
  - id: REC-1
    text: prefer small pull requests
`
	_, err := ParseDocument([]byte(raw))
	var schemaErr *model.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.Equal(t, "recommendations", schemaErr.Field)
}

func TestParseDocument_BadRuleID(t *testing.T) {
	for _, id := range []string{"sec-1", "SEC1", "SEC-", "1-SEC", "SEC-1a"} {
		raw := `
principles:
  - id: ` + id + `
    text: some rule text
forbidden_actions: []
requirements: []
style_guides: []
`
		_, err := ParseDocument([]byte(raw))
		var schemaErr *model.SchemaError
		require.ErrorAs(t, err, &schemaErr, "id %q", id)
	}
}

func TestParseDocument_MissingRuleID(t *testing.T) {
	raw := `
principles:
  - text: a rule without an id
forbidden_actions: []
requirements: []
style_guides: []
`
	_, err := ParseDocument([]byte(raw))
	var schemaErr *model.SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestParseDocument_EmptyRuleText(t *testing.T) {
	raw := `
principles:
  - id: GOV-1
    text: "   "
forbidden_actions: []
requirements: []
style_guides: []
`
	_, err := ParseDocument([]byte(raw))
	var schemaErr *model.SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestParseDocument_DuplicateRuleID(t *testing.T) {
	raw := `
principles:
  - id: GOV-1
    text: first rule
forbidden_actions:
  - id: GOV-1
    text: same id again
requirements: []
style_guides: []
`
	_, err := ParseDocument([]byte(raw))
	var schemaErr *model.SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestVersionHash_StableAcrossReordering(t *testing.T) {
	reordered := `
style_guides:
  - id: STY-1
    text: use descriptive variable names
requirements:
  - id: REQ-1
    text: code changes require peer review
principles:
  - id: GOV-1
    text: prefer reversible changes
forbidden_actions:
  - id: SEC-1
    text: delete production database
`
	a, err := ParseDocument([]byte(validDoc))
	require.NoError(t, err)
	b, err := ParseDocument([]byte(reordered))
	require.NoError(t, err)
	require.Equal(t, a.VersionHash, b.VersionHash)
}

func TestVersionHash_ChangesWithRuleText(t *testing.T) {
	changed := `
principles:
  - id: GOV-1
    text: prefer reversible changes
forbidden_actions:
  - id: SEC-1
    text: delete any production database without a backup
requirements:
  - id: REQ-1
    text: code changes require peer review
style_guides:
  - id: STY-1
    text: use descriptive variable names
`
	a, err := ParseDocument([]byte(validDoc))
	require.NoError(t, err)
	b, err := ParseDocument([]byte(changed))
	require.NoError(t, err)
	require.NotEqual(t, a.VersionHash, b.VersionHash)
}
