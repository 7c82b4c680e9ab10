package model

// FieldValue is the reconciled value of one field: the winning assertion plus
// the provenance needed for downstream review.
type FieldValue struct {
	Value         string   `json:"value"`
	WinningSource Source   `json:"winning_source"`
	Confidence    float64  `json:"confidence"`
	Contributors  []Source `json:"contributors"`
	Conflict      bool     `json:"conflict"`
}

// CanonicalRecord is the derived per-item view of the current fact set. It is
// always regenerated as a whole, never partially mutated, so re-running
// reconciliation on the same facts yields an identical record.
type CanonicalRecord struct {
	ItemID string                  `json:"item_id"`
	Fields map[FieldName]FieldValue `json:"fields"`
}

// Field returns the reconciled value for a field and whether it is set.
func (r *CanonicalRecord) Field(name FieldName) (FieldValue, bool) {
	fv, ok := r.Fields[name]
	return fv, ok
}
