package costs

import "testing"

func TestEstimate(t *testing.T) {
	cases := []struct {
		name     string
		model    string
		size     string
		duration string
		audio    bool
		want     float64
	}{
		{"sora base 720p", "sora-2", "1280x720", "8", false, 0.80},
		{"sora base 1080p multiplier", "sora-2", "1920x1080", "8", false, 1.20},
		{"sora pro portrait 1080", "sora-2-pro", "1080x1920", "4", false, 1.20},
		{"sora pro 720p", "sora-2-pro", "1280x720", "12", false, 2.40},
		{"veo audio inclusive", "veo-3.1-generate-preview", "", "8", true, 3.20},
		{"veo fast", "veo-3.1-fast-generate-preview", "", "6", true, 0.90},
		{"veo 3 fast", "veo-3-fast-generate-preview", "", "4", false, 0.60},
		{"unknown model", "pika-1", "1280x720", "8", false, 0},
		{"garbage duration", "sora-2", "1280x720", "abc", false, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Estimate(tc.model, tc.size, tc.duration, tc.audio)
			if got != tc.want {
				t.Fatalf("Estimate(%s, %s, %s) = %v, want %v", tc.model, tc.size, tc.duration, got, tc.want)
			}
		})
	}
}

func TestEstimateIsDeterministic(t *testing.T) {
	first := Estimate("sora-2-pro", "1920x1080", "12", false)
	for i := 0; i < 10; i++ {
		if got := Estimate("sora-2-pro", "1920x1080", "12", false); got != first {
			t.Fatalf("estimate changed between calls: %v != %v", got, first)
		}
	}
}
