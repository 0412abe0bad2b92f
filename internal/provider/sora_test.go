package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestSoraSubmitMultipart(t *testing.T) {
	var gotModel, gotPrompt, gotSize, gotSeconds string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/videos" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotPrompt = r.FormValue("prompt")
		gotSize = r.FormValue("size")
		gotSeconds = r.FormValue("seconds")
		writeTestJSON(w, http.StatusOK, map[string]any{
			"id": "video_123", "status": "queued", "progress": 0, "created_at": 1700000000,
		})
	}))
	defer srv.Close()

	client := NewSoraWithBaseURL("test-key", t.TempDir(), srv.URL)
	sub, err := client.Submit(context.Background(), Request{
		Prompt: "a red fox", Model: "sora-2", Size: "1280x720", Duration: "8",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.NativeID != "video_123" || sub.Status != "queued" {
		t.Fatalf("unexpected submission: %+v", sub)
	}
	if gotModel != "sora-2" || gotPrompt != "a red fox" || gotSize != "1280x720" || gotSeconds != "8" {
		t.Fatalf("form fields not forwarded: model=%q prompt=%q size=%q seconds=%q",
			gotModel, gotPrompt, gotSize, gotSeconds)
	}
}

func TestSoraSubmitAttachesInputReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		f, _, err := r.FormFile("input_reference")
		if err != nil {
			t.Fatalf("input_reference part missing: %v", err)
		}
		f.Close()
		writeTestJSON(w, http.StatusOK, map[string]any{"id": "video_123", "status": "queued"})
	}))
	defer srv.Close()

	refPath := filepath.Join(t.TempDir(), "ref.jpg")
	if err := os.WriteFile(refPath, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatalf("write ref: %v", err)
	}

	client := NewSoraWithBaseURL("test-key", t.TempDir(), srv.URL)
	if _, err := client.Submit(context.Background(), Request{
		Prompt: "x", Model: "sora-2", Duration: "8", InputReference: refPath,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestSoraValidateRejectsBadRequests(t *testing.T) {
	client := NewSora("k", t.TempDir())
	cases := []Request{
		{Prompt: "x", Model: "veo-3", Duration: "8"},
		{Prompt: "x", Model: "sora-2", Duration: "5"},
		{Prompt: "x", Model: "sora-2", Duration: "8", Size: "640x480"},
		{Prompt: "x", Model: "sora-2", Duration: "8", ReferenceImages: []string{"a", "b"}},
	}
	for i, req := range cases {
		err := client.Validate(req)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestSoraPollParsesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/videos/video_123" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		writeTestJSON(w, http.StatusOK, map[string]any{
			"id": "video_123", "status": "failed", "progress": 30,
			"error": map[string]string{"message": "content policy violation"},
		})
	}))
	defer srv.Close()

	client := NewSoraWithBaseURL("k", t.TempDir(), srv.URL)
	res, err := client.Poll(context.Background(), "video_123")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.Status != "failed" || res.ErrorMessage != "content policy violation" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSoraPollMapsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]string{"message": "video not found"},
		})
	}))
	defer srv.Close()

	client := NewSoraWithBaseURL("k", t.TempDir(), srv.URL)
	_, err := client.Poll(context.Background(), "gone")
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.StatusCode != http.StatusNotFound || perr.Message != "video not found" {
		t.Fatalf("unexpected error: %+v", perr)
	}
}

func TestSoraPollUnreachableIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	client := NewSoraWithBaseURL("k", t.TempDir(), srv.URL)
	_, err := client.Poll(context.Background(), "video_123")
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestSoraFetchArtifactDownloadsVideoAndThumbnail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/videos/video_123/content" && r.URL.Query().Get("variant") == "thumbnail":
			_, _ = w.Write([]byte("webp-bytes"))
		case r.URL.Path == "/videos/video_123/content":
			_, _ = w.Write([]byte("mp4-bytes"))
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	client := NewSoraWithBaseURL("k", dir, srv.URL)
	art, err := client.FetchArtifact(context.Background(), "video_123", "local-1")
	if err != nil {
		t.Fatalf("fetch artifact: %v", err)
	}
	if art.VideoPath != filepath.Join(dir, "local-1.mp4") {
		t.Fatalf("unexpected video path: %s", art.VideoPath)
	}
	data, err := os.ReadFile(art.VideoPath)
	if err != nil || string(data) != "mp4-bytes" {
		t.Fatalf("video content: %q err=%v", data, err)
	}
	if art.ThumbnailPath == "" {
		t.Fatal("expected thumbnail path")
	}
}

func TestSoraFetchArtifactMissingThumbnailIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("variant") == "thumbnail" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("mp4-bytes"))
	}))
	defer srv.Close()

	client := NewSoraWithBaseURL("k", t.TempDir(), srv.URL)
	art, err := client.FetchArtifact(context.Background(), "video_123", "local-1")
	if err != nil {
		t.Fatalf("fetch artifact: %v", err)
	}
	if art.ThumbnailPath != "" {
		t.Fatal("thumbnail path must be empty when the variant is missing")
	}
}

func TestSoraRemix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/videos/video_123/remix" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["prompt"] != "make it rain" {
			t.Fatalf("unexpected prompt: %q", body["prompt"])
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"id": "video_456", "status": "queued"})
	}))
	defer srv.Close()

	client := NewSoraWithBaseURL("k", t.TempDir(), srv.URL)
	sub, err := client.Remix(context.Background(), "video_123", "make it rain")
	if err != nil {
		t.Fatalf("remix: %v", err)
	}
	if sub.NativeID != "video_456" {
		t.Fatalf("unexpected native id: %q", sub.NativeID)
	}
}

func TestSoraExtendUnsupported(t *testing.T) {
	client := NewSora("k", t.TempDir())
	_, err := client.Extend(context.Background(), "video_123", "more", "8", nil)
	if !errors.Is(err, ErrUnsupportedOperation) {
		t.Fatalf("expected ErrUnsupportedOperation, got %v", err)
	}
}

func writeTestJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
