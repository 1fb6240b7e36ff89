package models

import "time"

// Insight is a model-written explanation of one operation's performance.
// Insights are generated on demand and never persisted.
type Insight struct {
	ID          string    `json:"id"`
	OperationID string    `json:"operation_id"`
	Provider    string    `json:"provider"`
	Narrative   string    `json:"narrative"`
	GeneratedAt time.Time `json:"generated_at"`
}
