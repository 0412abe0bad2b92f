// Package notify pushes job change notifications to subscribers of a job's
// owner. Delivery is fire-and-forget and at-least-once; subscribers apply
// changes idempotently.
package notify

import "context"

// Event is one published change set for a job.
type Event struct {
	JobID   string         `json:"job_id"`
	Changes map[string]any `json:"changes"`
}

// Sink publishes job mutations addressed to an owner. Implementations must
// not block the caller on delivery failures.
type Sink interface {
	Publish(ctx context.Context, ownerID, jobID string, changes map[string]any)
}
