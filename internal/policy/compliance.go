package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/membank/membank/internal/memory"
	"github.com/membank/membank/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "membank_policy_checks_total",
	Help: "Compliance checks by outcome.",
}, []string{"outcome"})

// Check embeds the action description, retrieves the top-K most
// similar policy rules, and classifies the action:
//
//   - violation when any forbidden-action rule scores at or above the
//     violation threshold,
//   - advisory when any principle or requirement rule scores at or
//     above the advisory threshold,
//   - compliant otherwise.
//
// One ComplianceEvent is appended per check regardless of outcome. The
// decision is deterministic for a fixed rule set and fixed embeddings.
func (s *Store) Check(ctx context.Context, actionDescription, agentID string) (model.Decision, error) {
	if s.VersionHash() == "" {
		return model.Decision{}, fmt.Errorf("policy not loaded; sync the policy document first")
	}

	results, err := s.mem.Query(ctx, memory.Policy, actionDescription, s.opts.TopK+1)
	if err != nil {
		return model.Decision{}, err
	}

	var matched []model.MatchedRule
	for _, r := range results {
		matched = append(matched, model.MatchedRule{
			RuleID:   r.Record.Metadata["rule_id"],
			Category: model.RuleCategory(r.Record.Metadata["category"]),
			Text:     r.Record.Text,
			Score:    r.Score,
		})
	}
	if len(matched) > s.opts.TopK {
		matched = matched[:s.opts.TopK]
	}

	decision := classify(matched, s.opts.ViolationThreshold, s.opts.AdvisoryThreshold)

	event := model.ComplianceEvent{
		AgentID:           agentID,
		ActionDescription: actionDescription,
		Outcome:           decision.Outcome,
		Timestamp:         time.Now().UTC(),
	}
	if decision.Outcome != model.OutcomeCompliant && len(decision.Matched) > 0 {
		event.RuleID = decision.Matched[0].RuleID
	}
	if err := s.audit.Append(ctx, event); err != nil {
		return model.Decision{}, fmt.Errorf("compliance audit append failed: %w", err)
	}
	checksTotal.WithLabelValues(string(decision.Outcome)).Inc()
	return decision, nil
}

func classify(matched []model.MatchedRule, violationThreshold, advisoryThreshold float64) model.Decision {
	for _, m := range matched {
		if m.Category == model.CategoryForbiddenAction && m.Score >= violationThreshold {
			return model.Decision{Outcome: model.OutcomeViolation, Matched: driversFirst(matched, m)}
		}
	}
	for _, m := range matched {
		if (m.Category == model.CategoryRequirement || m.Category == model.CategoryPrinciple) && m.Score >= advisoryThreshold {
			return model.Decision{Outcome: model.OutcomeAdvisory, Matched: driversFirst(matched, m)}
		}
	}
	return model.Decision{Outcome: model.OutcomeCompliant, Matched: matched}
}

// driversFirst moves the decisive rule to the front, keeping the rest
// in score order.
func driversFirst(matched []model.MatchedRule, driver model.MatchedRule) []model.MatchedRule {
	out := []model.MatchedRule{driver}
	for _, m := range matched {
		if m.RuleID != driver.RuleID {
			out = append(out, m)
		}
	}
	return out
}
