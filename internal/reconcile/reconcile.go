// Package reconcile derives one canonical record per item from the facts
// asserted by every source. The evaluation is deterministic and independent
// of fact arrival order: only source identity, match method, confidence, and
// observation time participate in ranking.
package reconcile

import (
	"sort"

	"github.com/openshelf/bibcat/internal/model"
)

// Engine computes canonical records under a ranking policy.
type Engine struct {
	policy *Policy
}

// NewEngine creates an engine. A nil policy uses DefaultPolicy.
func NewEngine(policy *Policy) *Engine {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Engine{policy: policy}
}

// Reconcile computes the canonical record for an item from its facts.
// Missing or malformed input never fails: fields nobody asserts are simply
// absent. Running it twice on the same fact set yields an identical record.
func (e *Engine) Reconcile(itemID string, facts []model.Fact) *model.CanonicalRecord {
	byField := make(map[model.FieldName][]model.Fact)
	for _, f := range facts {
		if f.Value == "" || f.Field == "" {
			continue
		}
		byField[f.Field] = append(byField[f.Field], f)
	}

	record := &model.CanonicalRecord{
		ItemID: itemID,
		Fields: make(map[model.FieldName]model.FieldValue, len(byField)),
	}

	for field, candidates := range byField {
		record.Fields[field] = e.resolveField(candidates)
	}
	return record
}

// resolveField picks the winning fact among candidates and assembles the
// provenance view.
func (e *Engine) resolveField(candidates []model.Fact) model.FieldValue {
	winner := candidates[0]
	for _, f := range candidates[1:] {
		if e.ranksAbove(f, winner) {
			winner = f
		}
	}

	distinctValues := make(map[string]bool, len(candidates))
	contributorSet := make(map[model.Source]bool, len(candidates))
	for _, f := range candidates {
		distinctValues[f.Value] = true
		contributorSet[f.Source] = true
	}

	contributors := make([]model.Source, 0, len(contributorSet))
	for s := range contributorSet {
		contributors = append(contributors, s)
	}
	sort.Slice(contributors, func(i, j int) bool { return contributors[i] < contributors[j] })

	return model.FieldValue{
		Value:         winner.Value,
		WinningSource: winner.Source,
		Confidence:    winner.Confidence,
		Contributors:  contributors,
		Conflict:      len(distinctValues) > 1,
	}
}

// ranksAbove reports whether fact a beats fact b. The comparison key is
// lexicographic: exact-identifier match first (when identifier precedence is
// on), then reliability tier, then confidence, then most recent observation.
// The final tie-breaks on source and value make the ordering total, so the
// winner cannot depend on slice order.
func (e *Engine) ranksAbove(a, b model.Fact) bool {
	if e.policy.IdentifierPrecedence {
		am, bm := methodRank(a.Method), methodRank(b.Method)
		if am != bm {
			return am > bm
		}
	}
	at, bt := e.policy.tier(a.Source), e.policy.tier(b.Source)
	if at != bt {
		return at > bt
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if !a.ObservedAt.Equal(b.ObservedAt) {
		return a.ObservedAt.After(b.ObservedAt)
	}
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	return a.Value < b.Value
}

func methodRank(m model.MatchMethod) int {
	if m == model.MatchExactIdentifier {
		return 1
	}
	return 0
}
