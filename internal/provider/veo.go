package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const veoDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Veo drives Google's long-running video generation API. The provider-native
// id is the operation name; the full operation object is carried as opaque
// metadata because extensions need the generated video handle, not just the
// operation name.
type Veo struct {
	apiKey    string
	baseURL   string
	videosDir string
	ffmpegBin string
	http      *http.Client
}

// NewVeo builds a Veo client. ffmpegBin is used to synthesize thumbnails,
// which the API does not provide.
func NewVeo(apiKey, videosDir, ffmpegBin string) *Veo {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	return &Veo{
		apiKey:    apiKey,
		baseURL:   veoDefaultBaseURL,
		videosDir: videosDir,
		ffmpegBin: ffmpegBin,
		http:      &http.Client{Timeout: 5 * time.Minute},
	}
}

// NewVeoWithBaseURL is used by tests to point the client at a stub server.
func NewVeoWithBaseURL(apiKey, videosDir, ffmpegBin, baseURL string) *Veo {
	v := NewVeo(apiKey, videosDir, ffmpegBin)
	v.baseURL = baseURL
	return v
}

func (v *Veo) Name() string { return NameVeo }

func (v *Veo) Capabilities() Capabilities {
	return Capabilities{
		SupportsAudio:         true,
		SupportsRemix:         false,
		SupportsExtension:     true,
		SupportsInterpolation: true,
		SupportsMultiRef:      true,
		MaxReferenceImages:    3,
		MaxDurationSeconds:    8,
		AspectRatios:          []string{"16:9", "9:16"},
		Resolutions:           []string{"720p", "1080p"},
		Durations:             []string{"4", "6", "8"},
		Models: []string{
			"veo-3.1-generate-preview",
			"veo-3.1-fast-generate-preview",
			"veo-3-generate-preview",
			"veo-3-fast-generate-preview",
		},
	}
}

func (v *Veo) Validate(req Request) error {
	caps := v.Capabilities()
	if !contains(caps.Models, req.Model) {
		return &ValidationError{Field: "model", Message: fmt.Sprintf("%q is not a veo model", req.Model)}
	}
	if !contains(caps.Durations, req.Duration) {
		return &ValidationError{Field: "duration", Message: fmt.Sprintf("%q not supported, use one of %v", req.Duration, caps.Durations)}
	}
	if req.Resolution != "" && !contains(caps.Resolutions, req.Resolution) {
		return &ValidationError{Field: "resolution", Message: fmt.Sprintf("%q not supported, use one of %v", req.Resolution, caps.Resolutions)}
	}
	if req.AspectRatio != "" && !contains(caps.AspectRatios, req.AspectRatio) {
		return &ValidationError{Field: "aspect_ratio", Message: fmt.Sprintf("%q not supported, use one of %v", req.AspectRatio, caps.AspectRatios)}
	}
	if len(req.ReferenceImages) > caps.MaxReferenceImages {
		return &ValidationError{Field: "reference_images", Message: fmt.Sprintf("at most %d reference images supported", caps.MaxReferenceImages)}
	}
	return nil
}

// veoOperation mirrors the long-running operation wire object.
type veoOperation struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    json.RawMessage `json:"error,omitempty"`
	Response *struct {
		GenerateVideoResponse *struct {
			GeneratedSamples []struct {
				Video *struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response,omitempty"`
}

func (op veoOperation) sampleURI() string {
	if op.Response == nil || op.Response.GenerateVideoResponse == nil {
		return ""
	}
	samples := op.Response.GenerateVideoResponse.GeneratedSamples
	if len(samples) == 0 || samples[0].Video == nil {
		return ""
	}
	return samples[0].Video.URI
}

func (v *Veo) Submit(ctx context.Context, req Request) (Submission, error) {
	if err := v.Validate(req); err != nil {
		return Submission{}, err
	}

	instance := map[string]any{"prompt": req.Prompt}
	if req.InputReference != "" {
		img, err := inlineImage(req.InputReference)
		if err != nil {
			return Submission{}, fmt.Errorf("read input reference: %w", err)
		}
		instance["image"] = img
	}

	duration, _ := strconv.Atoi(req.Duration)
	params := map[string]any{
		"sampleCount":     1,
		"durationSeconds": duration,
	}
	if req.Resolution != "" {
		params["resolution"] = req.Resolution
	}
	if req.AspectRatio != "" {
		params["aspectRatio"] = req.AspectRatio
	}
	if req.NegativePrompt != "" {
		params["negativePrompt"] = req.NegativePrompt
	}
	if req.GenerateAudio != nil && !*req.GenerateAudio {
		params["generateAudio"] = false
	}
	if len(req.ReferenceImages) > 0 {
		refs := make([]map[string]any, 0, len(req.ReferenceImages))
		for _, path := range req.ReferenceImages {
			img, err := inlineImage(path)
			if err != nil {
				return Submission{}, fmt.Errorf("read reference image: %w", err)
			}
			refs = append(refs, map[string]any{"image": img, "referenceType": "asset"})
		}
		params["referenceImages"] = refs
	}

	return v.startOperation(ctx, req.Model, map[string]any{
		"instances":  []map[string]any{instance},
		"parameters": params,
	})
}

func (v *Veo) Poll(ctx context.Context, nativeID string) (PollResult, error) {
	op, raw, err := v.getOperation(ctx, nativeID)
	if err != nil {
		return PollResult{}, err
	}

	res := PollResult{Metadata: raw}
	switch {
	case len(op.Error) > 0:
		res.Status = "failed"
		res.ErrorMessage = veoErrorMessage(op.Error)
	case op.Done:
		res.Status = "completed"
		res.Progress = 100
	default:
		// The API reports no granular progress; hold at 50 while running.
		res.Status = "in_progress"
		res.Progress = 50
	}
	return res, nil
}

func (v *Veo) FetchArtifact(ctx context.Context, nativeID, localID string) (Artifact, error) {
	op, _, err := v.getOperation(ctx, nativeID)
	if err != nil {
		return Artifact{}, err
	}
	uri := op.sampleURI()
	if uri == "" {
		return Artifact{}, &ProviderError{Provider: NameVeo, Message: "operation done but no generated sample present"}
	}

	videoPath := filepath.Join(v.videosDir, localID+".mp4")
	if err := v.downloadURI(ctx, uri, videoPath); err != nil {
		return Artifact{}, err
	}

	art := Artifact{VideoPath: videoPath}
	// No thumbnail endpoint; grab a frame from the downloaded file instead.
	thumbPath := filepath.Join(v.videosDir, localID+"_thumb.jpg")
	if err := v.extractFrame(ctx, videoPath, thumbPath); err == nil {
		art.ThumbnailPath = thumbPath
	}
	return art, nil
}

func (v *Veo) Remix(ctx context.Context, nativeID, prompt string) (Submission, error) {
	return Submission{}, fmt.Errorf("veo: %w", ErrUnsupportedOperation)
}

// Extend starts a continuation operation from the generated video handle
// stored at submission time. Without that handle the extension cannot be
// expressed, so the call fails loudly instead of guessing.
func (v *Veo) Extend(ctx context.Context, nativeID, prompt, duration string, metadata json.RawMessage) (Submission, error) {
	if len(metadata) == 0 {
		return Submission{}, ErrExtensionUnavailable
	}
	var op veoOperation
	if err := json.Unmarshal(metadata, &op); err != nil {
		return Submission{}, fmt.Errorf("%w: %v", ErrExtensionUnavailable, err)
	}
	uri := op.sampleURI()
	if uri == "" {
		return Submission{}, ErrExtensionUnavailable
	}

	seconds, _ := strconv.Atoi(duration)
	return v.startOperation(ctx, "veo-3.1-generate-preview", map[string]any{
		"instances": []map[string]any{{
			"prompt": prompt,
			"video":  map[string]any{"uri": uri},
		}},
		"parameters": map[string]any{
			"sampleCount":     1,
			"durationSeconds": seconds,
		},
	})
}

func (v *Veo) startOperation(ctx context.Context, model string, payload map[string]any) (Submission, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Submission{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:predictLongRunning?key=%s", v.baseURL, model, url.QueryEscape(v.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Submission{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return Submission{}, &TransportError{Provider: NameVeo, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return Submission{}, &ProviderError{Provider: NameVeo, StatusCode: resp.StatusCode, Message: readAPIError(resp.Body)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Submission{}, &TransportError{Provider: NameVeo, Err: err}
	}
	var op veoOperation
	if err := json.Unmarshal(raw, &op); err != nil {
		return Submission{}, &ProviderError{Provider: NameVeo, Message: fmt.Sprintf("decode operation: %v", err)}
	}
	if op.Name == "" {
		return Submission{}, &ProviderError{Provider: NameVeo, Message: "operation name not returned"}
	}

	return Submission{
		NativeID:  op.Name,
		Status:    "queued",
		Progress:  0,
		CreatedAt: time.Now().UTC(),
		Metadata:  raw,
	}, nil
}

func (v *Veo) getOperation(ctx context.Context, name string) (veoOperation, json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/%s?key=%s", v.baseURL, name, url.QueryEscape(v.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return veoOperation{}, nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := v.http.Do(req)
	if err != nil {
		return veoOperation{}, nil, &TransportError{Provider: NameVeo, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return veoOperation{}, nil, &ProviderError{Provider: NameVeo, StatusCode: resp.StatusCode, Message: readAPIError(resp.Body)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return veoOperation{}, nil, &TransportError{Provider: NameVeo, Err: err}
	}
	var op veoOperation
	if err := json.Unmarshal(raw, &op); err != nil {
		return veoOperation{}, nil, &ProviderError{Provider: NameVeo, Message: fmt.Sprintf("decode operation: %v", err)}
	}
	return op, raw, nil
}

func (v *Veo) downloadURI(ctx context.Context, uri, dest string) error {
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri+sep+"key="+url.QueryEscape(v.apiKey), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return &TransportError{Provider: NameVeo, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return &ProviderError{Provider: NameVeo, StatusCode: resp.StatusCode, Message: readAPIError(resp.Body)}
	}
	return writeStream(dest, resp.Body)
}

func (v *Veo) extractFrame(ctx context.Context, videoPath, outPath string) error {
	cmd := exec.CommandContext(ctx, v.ffmpegBin,
		"-y", "-sseof", "-0.5", "-i", videoPath, "-frames:v", "1", "-q:v", "2", outPath)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("extract frame: %w", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("extract frame: %w", err)
	}
	return nil
}

func veoErrorMessage(raw json.RawMessage) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return string(raw)
}

func inlineImage(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"imageBytes": base64.StdEncoding.EncodeToString(data),
		"mimeType":   "image/jpeg",
	}, nil
}
