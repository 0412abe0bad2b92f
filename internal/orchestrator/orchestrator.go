// Package orchestrator drives video generation jobs through one uniform
// lifecycle across heterogeneous providers: submit, poll, reconcile, download,
// notify. The persisted job record is the single source of truth; in-memory
// timers are only the scheduling mechanism and are rebuilt from the store at
// startup.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"videogen/internal/artifacts"
	"videogen/internal/costs"
	"videogen/internal/media"
	"videogen/internal/models"
	"videogen/internal/notify"
	"videogen/internal/provider"
	"videogen/internal/telemetry"
)

// CreateRequest carries the caller-facing generation parameters.
type CreateRequest struct {
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

// Options wires the orchestrator's collaborators.
type Options struct {
	Store        JobStore
	Registry     Registry
	Sink         notify.Sink
	Frames       FrameExtractor
	Archiver     artifacts.Archiver
	Logger       zerolog.Logger
	VideosDir    string
	CallTimeout  time.Duration
	FetchTimeout time.Duration
	PollInterval time.Duration
	BackoffMax   time.Duration
	PollWorkers  int
}

// Orchestrator owns job creation, reconciliation scheduling, and deletion.
// All lifecycle mutations flow through its reconcile pass.
type Orchestrator struct {
	store        JobStore
	registry     Registry
	sink         notify.Sink
	frames       FrameExtractor
	archiver     artifacts.Archiver
	log          zerolog.Logger
	videosDir    string
	callTimeout  time.Duration
	fetchTimeout time.Duration
	sched        *Scheduler

	// prepareImage pads reference images to the target frame; overridable in
	// tests to avoid image fixtures.
	prepareImage func(inputPath, targetSize string) (string, error)
}

// New builds an orchestrator and its polling scheduler.
func New(opts Options) *Orchestrator {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 60 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 5 * time.Minute
	}
	o := &Orchestrator{
		store:        opts.Store,
		registry:     opts.Registry,
		sink:         opts.Sink,
		frames:       opts.Frames,
		archiver:     opts.Archiver,
		log:          opts.Logger,
		videosDir:    opts.VideosDir,
		callTimeout:  opts.CallTimeout,
		fetchTimeout: opts.FetchTimeout,
		prepareImage: media.ResizeAndPad,
	}
	o.sched = NewScheduler(opts.PollInterval, opts.BackoffMax, opts.PollWorkers, o.reconcileJob)
	return o
}

// CreateJob validates, submits, prices, persists, and schedules a new job.
// Validation failures return before any network call; submission failures
// return before any persistence.
func (o *Orchestrator) CreateJob(ctx context.Context, ownerID string, req CreateRequest) (models.Job, error) {
	return o.createJob(ctx, ownerID, req, nil)
}

func (o *Orchestrator) createJob(ctx context.Context, ownerID string, req CreateRequest, parentID *string) (models.Job, error) {
	providerName, err := o.registry.Resolve(req.Model)
	if err != nil {
		return models.Job{}, err
	}
	client, err := o.registry.Client(providerName)
	if err != nil {
		return models.Job{}, err
	}

	o.applyDefaults(providerName, &req)

	preq := provider.Request{
		Prompt:          req.Prompt,
		Model:           req.Model,
		Size:            req.Size,
		AspectRatio:     req.AspectRatio,
		Resolution:      req.Resolution,
		Duration:        req.Duration,
		NegativePrompt:  req.NegativePrompt,
		ReferenceImages: req.ReferenceImages,
		GenerateAudio:   req.GenerateAudio,
	}
	if err := client.Validate(preq); err != nil {
		return models.Job{}, err
	}

	// Pad the reference image to the target frame for providers that take an
	// exact pixel size. Done after validation so a bad request never touches
	// the filesystem.
	if req.InputReference != "" {
		ref := req.InputReference
		if req.Size != "" {
			processed, err := o.prepareImage(req.InputReference, req.Size)
			if err != nil {
				return models.Job{}, fmt.Errorf("prepare input reference: %w", err)
			}
			defer media.CleanupTemp(processed)
			ref = processed
		}
		preq.InputReference = ref
	}

	submitCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	sub, err := client.Submit(submitCtx, preq)
	if err != nil {
		return models.Job{}, err
	}

	job, err := o.launch(ctx, o.newJob(ownerID, providerName, req, sub, parentID))
	if err != nil {
		return models.Job{}, err
	}
	o.log.Info().Str("job_id", job.ID).Str("provider", providerName).
		Str("model", job.Model).Float64("cost", job.Cost).Msg("job submitted")
	return job, nil
}

// launch persists a freshly submitted job, arms its poll timer, and announces
// the initial state.
func (o *Orchestrator) launch(ctx context.Context, job models.Job) (models.Job, error) {
	if err := o.store.CreateJob(ctx, job); err != nil {
		return models.Job{}, err
	}
	telemetry.JobsSubmitted.Inc()
	o.sched.Schedule(job.ID)
	o.sink.Publish(ctx, job.OwnerID, job.ID, map[string]any{
		"status":   job.Status,
		"progress": job.Progress,
	})
	return job, nil
}

// RemixJob derives a new generation from an existing one via the provider's
// native remix, inheriting size, duration, and model from the parent.
func (o *Orchestrator) RemixJob(ctx context.Context, ownerID, parentID, prompt string) (models.Job, error) {
	parent, err := o.authorizedJob(ctx, parentID, ownerID)
	if err != nil {
		return models.Job{}, err
	}
	client, err := o.registry.Client(parent.Provider)
	if err != nil {
		return models.Job{}, err
	}
	if !client.Capabilities().SupportsRemix {
		return models.Job{}, fmt.Errorf("remix on %s: %w", parent.Provider, provider.ErrUnsupportedOperation)
	}

	remixCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	sub, err := client.Remix(remixCtx, parent.ProviderJobID, prompt)
	if err != nil {
		return models.Job{}, err
	}

	req := CreateRequest{
		Prompt:        prompt,
		Model:         parent.Model,
		Size:          parent.Size,
		Duration:      parent.Duration,
		GenerateAudio: &parent.GenerateAudio,
	}
	job, err := o.launch(ctx, o.newJob(ownerID, parent.Provider, req, sub, &parent.ID))
	if err != nil {
		return models.Job{}, err
	}
	o.log.Info().Str("job_id", job.ID).Str("parent_id", parent.ID).Msg("remix submitted")
	return job, nil
}

// ContinueJob produces a logically-sequential job from a completed one.
// Same-provider continuations use native extension when the provider supports
// it; everything else re-seeds a fresh generation from the parent's last
// frame, which is the only path available across providers.
func (o *Orchestrator) ContinueJob(ctx context.Context, ownerID, parentID, prompt, model, duration string) (models.Job, error) {
	parent, err := o.authorizedJob(ctx, parentID, ownerID)
	if err != nil {
		return models.Job{}, err
	}
	if parent.Status != models.StatusCompleted || parent.FilePath == nil {
		return models.Job{}, &provider.ValidationError{Field: "parent", Message: "job must be completed with a downloaded artifact"}
	}

	if model == "" {
		model = parent.Model
	}
	if duration == "" {
		duration = parent.Duration
	}
	targetProvider, err := o.registry.Resolve(model)
	if err != nil {
		return models.Job{}, err
	}

	if targetProvider == parent.Provider {
		client, err := o.registry.Client(targetProvider)
		if err != nil {
			return models.Job{}, err
		}
		if client.Capabilities().SupportsExtension {
			return o.extendJob(ctx, client, parent, ownerID, prompt, duration)
		}
	}

	// Last-frame continuation.
	framePath := filepath.Join(os.TempDir(), fmt.Sprintf("frame-%s.jpg", uuid.New().String()))
	if err := o.frames.ExtractLastFrame(ctx, *parent.FilePath, framePath); err != nil {
		return models.Job{}, fmt.Errorf("extract last frame: %w", err)
	}
	defer media.CleanupTemp(framePath)

	// Size notation differs across providers; inherit it only when the
	// continuation stays on the parent's provider.
	size := parent.Size
	if targetProvider != parent.Provider {
		size = ""
	}
	req := CreateRequest{
		Prompt:         prompt,
		Model:          model,
		Size:           size,
		Duration:       duration,
		InputReference: framePath,
		GenerateAudio:  &parent.GenerateAudio,
	}
	return o.createJob(ctx, ownerID, req, &parent.ID)
}

func (o *Orchestrator) extendJob(ctx context.Context, client provider.Client, parent models.Job, ownerID, prompt, duration string) (models.Job, error) {
	if len(parent.ProviderMetadata) == 0 {
		return models.Job{}, provider.ErrExtensionUnavailable
	}

	extendCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	sub, err := client.Extend(extendCtx, parent.ProviderJobID, prompt, duration, parent.ProviderMetadata)
	if err != nil {
		return models.Job{}, err
	}

	req := CreateRequest{
		Prompt:        prompt,
		Model:         parent.Model,
		Size:          parent.Size,
		Duration:      duration,
		GenerateAudio: &parent.GenerateAudio,
	}
	job, err := o.launch(ctx, o.newJob(ownerID, parent.Provider, req, sub, &parent.ID))
	if err != nil {
		return models.Job{}, err
	}
	o.log.Info().Str("job_id", job.ID).Str("parent_id", parent.ID).Msg("extension submitted")
	return job, nil
}

// ForceCheck runs an immediate reconciliation pass with verbose diagnostics,
// then re-arms the timer if the job is still live but lost its schedule.
func (o *Orchestrator) ForceCheck(ctx context.Context, ownerID, jobID string) (models.Job, error) {
	if _, err := o.authorizedJob(ctx, jobID, ownerID); err != nil {
		return models.Job{}, err
	}

	outcome := o.sched.RunNow(jobID, true)
	if outcome == OutcomeTerminal {
		o.sched.Cancel(jobID)
	}

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if outcome != OutcomeTerminal && !models.IsTerminal(job.Status) && !o.sched.IsScheduled(jobID) {
		o.log.Info().Str("job_id", jobID).Msg("re-arming lost poll timer")
		o.sched.Schedule(jobID)
	}
	return job, nil
}

// Resume re-arms reconciliation for every non-terminal job in the store.
// Called once at process start so no job is abandoned when the previous
// process's timers died with it.
func (o *Orchestrator) Resume(ctx context.Context) error {
	jobs, err := o.store.ListActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("list active jobs: %w", err)
	}
	for _, job := range jobs {
		o.sched.Schedule(job.ID)
	}
	o.log.Info().Int("count", len(jobs)).Msg("resumed polling for outstanding jobs")
	return nil
}

// DeleteJob removes a job's record after disarming its timer. Artifact files
// are left on disk; in-flight reconciliation for the job is fenced out by the
// job lock and finds the record gone.
func (o *Orchestrator) DeleteJob(ctx context.Context, ownerID, jobID string) error {
	if _, err := o.authorizedJob(ctx, jobID, ownerID); err != nil {
		return err
	}

	unlock := o.sched.LockJob(jobID)
	defer unlock()
	o.sched.Cancel(jobID)
	return o.store.DeleteJob(ctx, jobID)
}

// GetJob returns a job after an ownership check.
func (o *Orchestrator) GetJob(ctx context.Context, ownerID, jobID string) (models.Job, error) {
	return o.authorizedJob(ctx, jobID, ownerID)
}

// ListJobs returns an owner's jobs, newest first.
func (o *Orchestrator) ListJobs(ctx context.Context, ownerID string, limit, offset int) ([]models.Job, error) {
	return o.store.GetJobsByOwner(ctx, ownerID, limit, offset)
}

// CostStats aggregates recorded spend.
func (o *Orchestrator) CostStats(ctx context.Context, ownerID string) (models.CostStats, error) {
	return o.store.AggregateCost(ctx, ownerID)
}

// SupportedModels lists models per provider.
func (o *Orchestrator) SupportedModels() map[string][]string {
	return o.registry.SupportedModels()
}

// Shutdown stops all polling deterministically.
func (o *Orchestrator) Shutdown() {
	o.sched.Shutdown()
}

// reconcileJob is the scheduler callback: poll the provider, merge the result
// into the store, and publish the mutation. Runs under the per-job lock.
func (o *Orchestrator) reconcileJob(ctx context.Context, jobID string, verbose bool) Outcome {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			// Deleted while a tick was pending; nothing left to poll.
			return OutcomeTerminal
		}
		o.log.Error().Err(err).Str("job_id", jobID).Msg("reconcile: load job")
		return OutcomeContinue
	}
	if models.IsTerminal(job.Status) {
		return OutcomeTerminal
	}

	client, err := o.registry.Client(job.Provider)
	if err != nil {
		o.log.Error().Err(err).Str("job_id", jobID).Msg("reconcile: resolve provider")
		return OutcomeRetryBackoff
	}

	pollCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	telemetry.Polls.Inc()
	res, err := client.Poll(pollCtx, job.ProviderJobID)
	if err != nil {
		return o.handlePollError(ctx, job, err, verbose)
	}
	if verbose {
		o.log.Info().Str("job_id", jobID).Str("native_id", job.ProviderJobID).
			Str("status", res.Status).Int("progress", res.Progress).
			RawJSON("provider_response", nonEmptyJSON(res.Metadata)).
			Msg("force check: provider state")
	}

	upd := o.mergePoll(ctx, job, res)
	if upd.Empty() {
		return OutcomeContinue
	}

	if err := o.store.UpdateJob(ctx, job.ID, upd); err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			// Deleted while the poll was in flight; discard the result.
			return OutcomeTerminal
		}
		o.log.Error().Err(err).Str("job_id", jobID).Msg("reconcile: persist update")
		return OutcomeContinue
	}

	o.sink.Publish(ctx, job.OwnerID, job.ID, upd.Changes())

	if upd.Status != nil {
		switch *upd.Status {
		case models.StatusCompleted:
			telemetry.JobsCompleted.Inc()
			return OutcomeTerminal
		case models.StatusFailed:
			telemetry.JobsFailed.Inc()
			return OutcomeTerminal
		}
	}
	return OutcomeContinue
}

// mergePoll folds a poll result into a partial update, honoring progress
// monotonicity and terminal-state immutability.
func (o *Orchestrator) mergePoll(ctx context.Context, job models.Job, res provider.PollResult) models.JobUpdate {
	var upd models.JobUpdate

	switch res.Status {
	case models.StatusCompleted:
		fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
		defer cancel()
		client, err := o.registry.Client(job.Provider)
		var art provider.Artifact
		if err == nil {
			art, err = client.FetchArtifact(fetchCtx, job.ProviderJobID, job.ID)
		}
		if err != nil {
			// Provider says done but we cannot materialize it: terminal failure.
			o.log.Error().Err(err).Str("job_id", job.ID).Msg("artifact download failed")
			failed := models.StatusFailed
			msg := "artifact download failed: " + err.Error()
			upd.Status = &failed
			upd.ErrorMessage = &msg
			return upd
		}

		completed := models.StatusCompleted
		full := 100
		now := time.Now().UTC()
		upd.Status = &completed
		upd.Progress = &full
		upd.FilePath = &art.VideoPath
		if art.ThumbnailPath != "" {
			upd.ThumbnailPath = &art.ThumbnailPath
		}
		upd.CompletedAt = &now
		// The final operation state carries the handles native extension needs
		// later; keep it with the job.
		if len(res.Metadata) > 0 {
			upd.ProviderMetadata = res.Metadata
		}
		o.archive(job.ID, art)

	case models.StatusFailed:
		failed := models.StatusFailed
		msg := res.ErrorMessage
		if msg == "" {
			msg = "generation failed"
		}
		upd.Status = &failed
		upd.ErrorMessage = &msg
		if res.Progress != job.Progress {
			upd.Progress = &res.Progress
		}

	default:
		if res.Status != "" && res.Status != job.Status {
			status := res.Status
			upd.Status = &status
		}
		// Providers may report stale progress; never regress a live job.
		if res.Progress > job.Progress {
			progress := res.Progress
			upd.Progress = &progress
		}
	}
	return upd
}

func (o *Orchestrator) handlePollError(ctx context.Context, job models.Job, err error, verbose bool) Outcome {
	// Transport problems and vendor-side flakiness retry silently forever;
	// they never fail the job.
	var pe *provider.ProviderError
	retryable := provider.IsTransport(err) || errors.Is(err, context.DeadlineExceeded)
	if !retryable && errors.As(err, &pe) {
		retryable = pe.StatusCode >= 500 || pe.StatusCode == 429
	}
	if retryable {
		telemetry.PollTransportErrors.Inc()
		evt := o.log.Warn()
		if verbose {
			evt = o.log.Error()
		}
		evt.Err(err).Str("job_id", job.ID).Msg("poll failed, will retry")
		return OutcomeRetryBackoff
	}

	// The vendor definitively rejected the operation (e.g. it no longer
	// exists): surface as job failure.
	failed := models.StatusFailed
	msg := err.Error()
	upd := models.JobUpdate{Status: &failed, ErrorMessage: &msg}
	if uerr := o.store.UpdateJob(ctx, job.ID, upd); uerr != nil {
		if errors.Is(uerr, provider.ErrNotFound) {
			return OutcomeTerminal
		}
		o.log.Error().Err(uerr).Str("job_id", job.ID).Msg("reconcile: persist failure")
		return OutcomeContinue
	}
	o.sink.Publish(ctx, job.OwnerID, job.ID, upd.Changes())
	telemetry.JobsFailed.Inc()
	return OutcomeTerminal
}

func (o *Orchestrator) archive(jobID string, art provider.Artifact) {
	if o.archiver == nil {
		return
	}
	// Off the reconcile path: archival is best-effort and must not delay or
	// fail the completion write.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.fetchTimeout)
		defer cancel()
		for _, path := range []string{art.VideoPath, art.ThumbnailPath} {
			if path == "" {
				continue
			}
			if url, err := o.archiver.Archive(ctx, jobID, path); err != nil {
				o.log.Warn().Err(err).Str("job_id", jobID).Msg("artifact archive failed")
			} else if url != "" {
				o.log.Info().Str("job_id", jobID).Str("url", url).Msg("artifact archived")
			}
		}
	}()
}

func (o *Orchestrator) authorizedJob(ctx context.Context, jobID, ownerID string) (models.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.OwnerID != ownerID {
		return models.Job{}, provider.ErrForbidden
	}
	return job, nil
}

func (o *Orchestrator) newJob(ownerID, providerName string, req CreateRequest, sub provider.Submission, parentID *string) models.Job {
	status := sub.Status
	if status == "" {
		status = models.StatusQueued
	}
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	audio := false
	if req.GenerateAudio != nil {
		audio = *req.GenerateAudio
	}

	size := req.Size
	if size == "" {
		size = req.Resolution
	}

	return models.Job{
		ID:               uuid.New().String(),
		OwnerID:          ownerID,
		Provider:         providerName,
		ProviderJobID:    sub.NativeID,
		Prompt:           req.Prompt,
		Model:            req.Model,
		Size:             size,
		Duration:         req.Duration,
		NegativePrompt:   req.NegativePrompt,
		ReferenceImages:  req.ReferenceImages,
		GenerateAudio:    audio,
		Status:           status,
		Progress:         sub.Progress,
		ParentID:         parentID,
		ProviderMetadata: sub.Metadata,
		Cost:             costs.Estimate(req.Model, size, req.Duration, audio),
		CreatedAt:        createdAt,
		UpdatedAt:        time.Now().UTC(),
	}
}

// applyDefaults fills provider-appropriate defaults for omitted fields.
func (o *Orchestrator) applyDefaults(providerName string, req *CreateRequest) {
	if req.Duration == "" {
		req.Duration = "8"
	}
	switch providerName {
	case provider.NameSora:
		if req.Size == "" {
			req.Size = "1280x720"
		}
	case provider.NameVeo:
		if req.AspectRatio == "" {
			req.AspectRatio = "16:9"
		}
		if req.Resolution == "" {
			req.Resolution = "720p"
		}
		// Veo sizes are aspect/resolution pairs, not pixel dimensions.
		req.Size = ""
	}
}

func nonEmptyJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
