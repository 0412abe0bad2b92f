package provider

import (
	"context"
	"encoding/json"
	"time"
)

// Capabilities is the static descriptor of what a provider can do. The
// orchestrator consults it before choosing a code path; adapters consult it
// in Validate.
type Capabilities struct {
	SupportsAudio         bool
	SupportsRemix         bool
	SupportsExtension     bool
	SupportsInterpolation bool
	SupportsMultiRef      bool
	MaxReferenceImages    int
	MaxDurationSeconds    int
	AspectRatios          []string
	Resolutions           []string
	Durations             []string
	Models                []string
}

// Request carries the provider-agnostic generation parameters. Adapters
// translate it into their own wire shapes.
type Request struct {
	Prompt          string
	Model           string
	Size            string
	AspectRatio     string
	Resolution      string
	Duration        string
	NegativePrompt  string
	InputReference  string
	ReferenceImages []string
	GenerateAudio   *bool
}

// Submission is the uniform result of a creation call. Metadata is an opaque
// blob the orchestrator persists verbatim; some providers need it handed back
// later to extend an operation.
type Submission struct {
	NativeID  string
	Status    string
	Progress  int
	CreatedAt time.Time
	Metadata  json.RawMessage
}

// PollResult is a single status read. It must carry no side effects.
type PollResult struct {
	Status       string
	Progress     int
	ErrorMessage string
	Metadata     json.RawMessage
}

// Artifact holds local paths for downloaded media.
type Artifact struct {
	VideoPath     string
	ThumbnailPath string
}

// Client hides vendor-specific request/response shapes behind one contract.
// All state changes flow back through the orchestrator; adapters perform
// network I/O only.
type Client interface {
	Name() string

	// Capabilities is pure and performs no I/O.
	Capabilities() Capabilities

	// Validate checks the request against capabilities before any network call.
	Validate(req Request) error

	// Submit performs the provider-specific creation call.
	Submit(ctx context.Context, req Request) (Submission, error)

	// Poll reads the current status of a native operation. Safe to call
	// arbitrarily often.
	Poll(ctx context.Context, nativeID string) (PollResult, error)

	// FetchArtifact downloads the finished media for a completed operation.
	// Idempotent; a re-download overwrites the same destination files.
	FetchArtifact(ctx context.Context, nativeID, localID string) (Artifact, error)

	// Remix derives a new operation from an existing one with a new prompt.
	// Providers without remix support return ErrUnsupportedOperation.
	Remix(ctx context.Context, nativeID, prompt string) (Submission, error)

	// Extend appends duration to an existing operation using the stored
	// metadata from the original submission. Providers without native
	// extension return ErrUnsupportedOperation; providers that need the
	// original handle fail with ErrExtensionUnavailable when it is absent.
	Extend(ctx context.Context, nativeID, prompt, duration string, metadata json.RawMessage) (Submission, error)
}
