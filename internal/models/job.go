package models

import (
	"encoding/json"
	"time"
)

// Job statuses persisted in Postgres. A job moves queued -> in_progress ->
// completed|failed; completed and failed are terminal.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Job is one local record of a generation request submitted to an external
// video provider. Request attributes are immutable after creation; lifecycle
// attributes are mutated only through the polling scheduler.
type Job struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"owner_id"`
	Provider         string          `json:"provider"`
	ProviderJobID    string          `json:"provider_job_id"`
	Prompt           string          `json:"prompt"`
	Model            string          `json:"model"`
	Size             string          `json:"size"`
	Duration         string          `json:"duration"`
	NegativePrompt   string          `json:"negative_prompt,omitempty"`
	ReferenceImages  []string        `json:"reference_images,omitempty"`
	GenerateAudio    bool            `json:"generate_audio"`
	Status           string          `json:"status"`
	Progress         int             `json:"progress"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
	FilePath         *string         `json:"file_path,omitempty"`
	ThumbnailPath    *string         `json:"thumbnail_path,omitempty"`
	ParentID         *string         `json:"parent_id,omitempty"`
	ProviderMetadata json.RawMessage `json:"-"`
	Cost             float64         `json:"cost"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// JobUpdate is a field-level partial update. Nil fields are left untouched;
// an all-nil update is a no-op.
type JobUpdate struct {
	Status           *string
	Progress         *int
	ErrorMessage     *string
	FilePath         *string
	ThumbnailPath    *string
	ProviderJobID    *string
	ProviderMetadata json.RawMessage
	CompletedAt      *time.Time
}

// Empty reports whether the update would change nothing.
func (u JobUpdate) Empty() bool {
	return u.Status == nil && u.Progress == nil && u.ErrorMessage == nil &&
		u.FilePath == nil && u.ThumbnailPath == nil && u.ProviderJobID == nil &&
		u.ProviderMetadata == nil && u.CompletedAt == nil
}

// Changes renders the non-nil fields as a map for change notifications.
func (u JobUpdate) Changes() map[string]any {
	out := map[string]any{}
	if u.Status != nil {
		out["status"] = *u.Status
	}
	if u.Progress != nil {
		out["progress"] = *u.Progress
	}
	if u.ErrorMessage != nil {
		out["error_message"] = *u.ErrorMessage
	}
	if u.FilePath != nil {
		out["file_path"] = *u.FilePath
	}
	if u.ThumbnailPath != nil {
		out["thumbnail_path"] = *u.ThumbnailPath
	}
	if u.ProviderJobID != nil {
		out["provider_job_id"] = *u.ProviderJobID
	}
	if u.CompletedAt != nil {
		out["completed_at"] = u.CompletedAt.UTC()
	}
	return out
}

// CostStats aggregates recorded spend for one owner and the whole platform.
type CostStats struct {
	OwnerTotal    float64 `json:"owner_total"`
	OwnerCount    int     `json:"owner_count"`
	PlatformTotal float64 `json:"platform_total"`
	PlatformCount int     `json:"platform_count"`
}
