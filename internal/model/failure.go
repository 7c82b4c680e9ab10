package model

import "time"

// ProviderFailure is the structured outcome of a provider call that could not
// be completed, either immediately (permanent error) or after exhausting
// retries (transient error). The batch driver records it and moves on; it is
// never raised past the driver.
type ProviderFailure struct {
	Source     Source    `json:"source"`
	ItemID     string    `json:"item_id"`
	Reason     string    `json:"reason"`
	Transient  bool      `json:"transient"`
	OccurredAt time.Time `json:"occurred_at"`
}
