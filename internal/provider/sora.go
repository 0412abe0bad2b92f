package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const soraDefaultBaseURL = "https://api.openai.com/v1"

// Sora drives OpenAI's video generation API. One operation per video; remix
// is native, extension is not (continuations are re-seeded from the last
// frame by the orchestrator).
type Sora struct {
	apiKey    string
	baseURL   string
	videosDir string
	http      *http.Client
}

// NewSora builds a Sora client writing artifacts under videosDir.
func NewSora(apiKey, videosDir string) *Sora {
	return &Sora{
		apiKey:    apiKey,
		baseURL:   soraDefaultBaseURL,
		videosDir: videosDir,
		http:      &http.Client{Timeout: 5 * time.Minute},
	}
}

// NewSoraWithBaseURL is used by tests to point the client at a stub server.
func NewSoraWithBaseURL(apiKey, videosDir, baseURL string) *Sora {
	s := NewSora(apiKey, videosDir)
	s.baseURL = baseURL
	return s
}

func (s *Sora) Name() string { return NameSora }

func (s *Sora) Capabilities() Capabilities {
	return Capabilities{
		SupportsAudio:         false,
		SupportsRemix:         true,
		SupportsExtension:     false,
		SupportsInterpolation: false,
		SupportsMultiRef:      false,
		MaxReferenceImages:    1,
		MaxDurationSeconds:    12,
		AspectRatios:          []string{"16:9", "9:16"},
		Resolutions:           []string{"1280x720", "1920x1080", "720x1280", "1080x1920"},
		Durations:             []string{"4", "8", "12"},
		Models:                []string{"sora-2", "sora-2-pro"},
	}
}

func (s *Sora) Validate(req Request) error {
	caps := s.Capabilities()
	if !contains(caps.Models, req.Model) {
		return &ValidationError{Field: "model", Message: fmt.Sprintf("%q is not a sora model", req.Model)}
	}
	if !contains(caps.Durations, req.Duration) {
		return &ValidationError{Field: "duration", Message: fmt.Sprintf("%q not supported, use one of %v", req.Duration, caps.Durations)}
	}
	if req.Size != "" && !contains(caps.Resolutions, req.Size) {
		return &ValidationError{Field: "size", Message: fmt.Sprintf("%q not supported, use one of %v", req.Size, caps.Resolutions)}
	}
	if len(req.ReferenceImages) > caps.MaxReferenceImages {
		return &ValidationError{Field: "reference_images", Message: fmt.Sprintf("at most %d reference image supported", caps.MaxReferenceImages)}
	}
	return nil
}

// soraVideo mirrors the subset of the wire object the orchestrator needs.
type soraVideo struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	CreatedAt   int64  `json:"created_at"`
	CompletedAt int64  `json:"completed_at"`
	Error       *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Sora) Submit(ctx context.Context, req Request) (Submission, error) {
	if err := s.Validate(req); err != nil {
		return Submission{}, err
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	_ = mw.WriteField("model", req.Model)
	_ = mw.WriteField("prompt", req.Prompt)
	_ = mw.WriteField("size", req.Size)
	_ = mw.WriteField("seconds", req.Duration)
	if req.InputReference != "" {
		if err := attachFile(mw, "input_reference", req.InputReference); err != nil {
			return Submission{}, fmt.Errorf("attach input reference: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return Submission{}, fmt.Errorf("finalize multipart body: %w", err)
	}

	var out soraVideo
	if err := s.do(ctx, http.MethodPost, "/videos", body, mw.FormDataContentType(), &out); err != nil {
		return Submission{}, err
	}
	return s.submission(out)
}

func (s *Sora) Poll(ctx context.Context, nativeID string) (PollResult, error) {
	var out soraVideo
	if err := s.do(ctx, http.MethodGet, "/videos/"+nativeID, nil, "", &out); err != nil {
		return PollResult{}, err
	}
	res := PollResult{Status: out.Status, Progress: out.Progress}
	if out.Error != nil {
		res.ErrorMessage = out.Error.Message
	}
	if raw, err := json.Marshal(out); err == nil {
		res.Metadata = raw
	}
	return res, nil
}

func (s *Sora) FetchArtifact(ctx context.Context, nativeID, localID string) (Artifact, error) {
	videoPath := filepath.Join(s.videosDir, localID+".mp4")
	if err := s.download(ctx, "/videos/"+nativeID+"/content", videoPath); err != nil {
		return Artifact{}, err
	}

	art := Artifact{VideoPath: videoPath}
	// Thumbnails are best-effort; a missing variant never fails the job.
	thumbPath := filepath.Join(s.videosDir, localID+"_thumb.webp")
	if err := s.download(ctx, "/videos/"+nativeID+"/content?variant=thumbnail", thumbPath); err == nil {
		art.ThumbnailPath = thumbPath
	}
	return art, nil
}

func (s *Sora) Remix(ctx context.Context, nativeID, prompt string) (Submission, error) {
	payload, _ := json.Marshal(map[string]string{"prompt": prompt})
	var out soraVideo
	if err := s.do(ctx, http.MethodPost, "/videos/"+nativeID+"/remix", bytes.NewReader(payload), "application/json", &out); err != nil {
		return Submission{}, err
	}
	return s.submission(out)
}

func (s *Sora) Extend(ctx context.Context, nativeID, prompt, duration string, metadata json.RawMessage) (Submission, error) {
	return Submission{}, fmt.Errorf("sora: %w", ErrUnsupportedOperation)
}

func (s *Sora) submission(v soraVideo) (Submission, error) {
	if v.ID == "" {
		return Submission{}, &ProviderError{Provider: NameSora, Message: "response missing video id"}
	}
	sub := Submission{
		NativeID:  v.ID,
		Status:    v.Status,
		Progress:  v.Progress,
		CreatedAt: time.Unix(v.CreatedAt, 0).UTC(),
	}
	if sub.Status == "" {
		sub.Status = "queued"
	}
	if raw, err := json.Marshal(v); err == nil {
		sub.Metadata = raw
	}
	return sub, nil
}

func (s *Sora) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return &TransportError{Provider: NameSora, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return &ProviderError{Provider: NameSora, StatusCode: resp.StatusCode, Message: readAPIError(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Provider: NameSora, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

func (s *Sora) download(ctx context.Context, path, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return &TransportError{Provider: NameSora, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return &ProviderError{Provider: NameSora, StatusCode: resp.StatusCode, Message: readAPIError(resp.Body)}
	}
	return writeStream(dest, resp.Body)
}

// readAPIError extracts {"error":{"message":...}} bodies, falling back to the
// raw text.
func readAPIError(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return string(bytes.TrimSpace(raw))
}

func writeStream(dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create artifact file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

func attachFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
