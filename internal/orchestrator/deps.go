package orchestrator

import (
	"context"

	"videogen/internal/models"
	"videogen/internal/provider"
)

// JobStore is the persistence contract the orchestrator consumes. Implemented
// by internal/store against Postgres; tests supply an in-memory version.
type JobStore interface {
	CreateJob(ctx context.Context, job models.Job) error
	UpdateJob(ctx context.Context, id string, upd models.JobUpdate) error
	GetJob(ctx context.Context, id string) (models.Job, error)
	GetJobByProviderID(ctx context.Context, providerName, nativeID string) (models.Job, error)
	GetJobsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Job, error)
	ListActiveJobs(ctx context.Context) ([]models.Job, error)
	DeleteJob(ctx context.Context, id string) error
	AggregateCost(ctx context.Context, ownerID string) (models.CostStats, error)
}

// Registry resolves models to providers and hands out provider clients.
type Registry interface {
	Resolve(model string) (string, error)
	Client(name string) (provider.Client, error)
	SupportedModels() map[string][]string
}

// FrameExtractor pulls the last frame out of a finished video for
// continuation re-seeding.
type FrameExtractor interface {
	ExtractLastFrame(ctx context.Context, videoPath, outPath string) error
}
