package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestVeoSubmitRequestShape(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/models/veo-3.1-generate-preview:predictLongRunning") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Fatalf("api key not forwarded: %q", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"name": "operations/op-1"})
	}))
	defer srv.Close()

	off := false
	client := NewVeoWithBaseURL("test-key", t.TempDir(), "ffmpeg", srv.URL)
	sub, err := client.Submit(context.Background(), Request{
		Prompt:         "a storm over the sea",
		Model:          "veo-3.1-generate-preview",
		AspectRatio:    "16:9",
		Resolution:     "720p",
		Duration:       "8",
		NegativePrompt: "people",
		GenerateAudio:  &off,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.NativeID != "operations/op-1" || sub.Status != "queued" {
		t.Fatalf("unexpected submission: %+v", sub)
	}
	if len(sub.Metadata) == 0 {
		t.Fatal("submission must carry the raw operation as metadata")
	}

	instances := captured["instances"].([]any)
	if instances[0].(map[string]any)["prompt"] != "a storm over the sea" {
		t.Fatalf("prompt not forwarded: %v", instances)
	}
	params := captured["parameters"].(map[string]any)
	if params["durationSeconds"].(float64) != 8 || params["resolution"] != "720p" ||
		params["aspectRatio"] != "16:9" || params["negativePrompt"] != "people" {
		t.Fatalf("parameters not forwarded: %v", params)
	}
	if params["generateAudio"] != false {
		t.Fatalf("audio opt-out not forwarded: %v", params)
	}
}

func TestVeoValidateRejectsBadRequests(t *testing.T) {
	client := NewVeo("k", t.TempDir(), "ffmpeg")
	cases := []Request{
		{Prompt: "x", Model: "sora-2", Duration: "8"},
		{Prompt: "x", Model: "veo-3-generate-preview", Duration: "12"},
		{Prompt: "x", Model: "veo-3-generate-preview", Duration: "8", Resolution: "4k"},
		{Prompt: "x", Model: "veo-3-generate-preview", Duration: "8", AspectRatio: "4:3"},
		{Prompt: "x", Model: "veo-3-generate-preview", Duration: "8", ReferenceImages: []string{"a", "b", "c", "d"}},
	}
	for i, req := range cases {
		err := client.Validate(req)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestVeoPollStates(t *testing.T) {
	cases := []struct {
		name       string
		op         map[string]any
		wantStatus string
		wantProg   int
		wantErrMsg string
	}{
		{
			name:       "running",
			op:         map[string]any{"name": "operations/op-1", "done": false},
			wantStatus: "in_progress",
			wantProg:   50,
		},
		{
			name: "done",
			op: map[string]any{
				"name": "operations/op-1", "done": true,
				"response": map[string]any{
					"generateVideoResponse": map[string]any{
						"generatedSamples": []map[string]any{
							{"video": map[string]any{"uri": "https://files.example/video.mp4"}},
						},
					},
				},
			},
			wantStatus: "completed",
			wantProg:   100,
		},
		{
			name: "error",
			op: map[string]any{
				"name": "operations/op-1", "done": true,
				"error": map[string]any{"code": 3, "message": "prompt blocked"},
			},
			wantStatus: "failed",
			wantErrMsg: "prompt blocked",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/operations/op-1" {
					t.Fatalf("unexpected path: %s", r.URL.Path)
				}
				writeTestJSON(w, http.StatusOK, tc.op)
			}))
			defer srv.Close()

			client := NewVeoWithBaseURL("k", t.TempDir(), "ffmpeg", srv.URL)
			res, err := client.Poll(context.Background(), "operations/op-1")
			if err != nil {
				t.Fatalf("poll: %v", err)
			}
			if res.Status != tc.wantStatus || res.Progress != tc.wantProg {
				t.Fatalf("unexpected result: %+v", res)
			}
			if res.ErrorMessage != tc.wantErrMsg {
				t.Fatalf("unexpected error message: %q", res.ErrorMessage)
			}
			if len(res.Metadata) == 0 {
				t.Fatal("poll must carry the raw operation as metadata")
			}
		})
	}
}

func TestVeoExtendRequiresStoredOperation(t *testing.T) {
	client := NewVeo("k", t.TempDir(), "ffmpeg")

	if _, err := client.Extend(context.Background(), "operations/op-1", "more", "8", nil); !errors.Is(err, ErrExtensionUnavailable) {
		t.Fatalf("empty metadata: expected ErrExtensionUnavailable, got %v", err)
	}
	if _, err := client.Extend(context.Background(), "operations/op-1", "more", "8", json.RawMessage(`not-json`)); !errors.Is(err, ErrExtensionUnavailable) {
		t.Fatalf("bad metadata: expected ErrExtensionUnavailable, got %v", err)
	}
	if _, err := client.Extend(context.Background(), "operations/op-1", "more", "8", json.RawMessage(`{"name":"operations/op-1","done":true}`)); !errors.Is(err, ErrExtensionUnavailable) {
		t.Fatalf("no sample uri: expected ErrExtensionUnavailable, got %v", err)
	}
}

func TestVeoExtendUsesStoredVideoHandle(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"name": "operations/op-2"})
	}))
	defer srv.Close()

	metadata := json.RawMessage(`{
		"name": "operations/op-1",
		"done": true,
		"response": {
			"generateVideoResponse": {
				"generatedSamples": [{"video": {"uri": "https://files.example/v1.mp4"}}]
			}
		}
	}`)

	client := NewVeoWithBaseURL("k", t.TempDir(), "ffmpeg", srv.URL)
	sub, err := client.Extend(context.Background(), "operations/op-1", "keep going", "8", metadata)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if sub.NativeID != "operations/op-2" {
		t.Fatalf("unexpected native id: %q", sub.NativeID)
	}

	instance := captured["instances"].([]any)[0].(map[string]any)
	video := instance["video"].(map[string]any)
	if video["uri"] != "https://files.example/v1.mp4" {
		t.Fatalf("stored video handle not forwarded: %v", instance)
	}
}

func TestVeoRemixUnsupported(t *testing.T) {
	client := NewVeo("k", t.TempDir(), "ffmpeg")
	if _, err := client.Remix(context.Background(), "operations/op-1", "again"); !errors.Is(err, ErrUnsupportedOperation) {
		t.Fatalf("expected ErrUnsupportedOperation, got %v", err)
	}
}
