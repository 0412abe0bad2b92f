// Package costs prices generation requests at submission time. The estimate
// is computed exactly once, from the validated request, and never recomputed
// from provider responses so recorded spend stays stable.
package costs

import (
	"math"
	"strconv"
	"strings"
)

// Per-second USD rates. Sora prices per second with a resolution multiplier;
// Veo rates are flat and audio-inclusive.
const (
	soraBaseRate    = 0.10
	soraProRate     = 0.20
	soraHiResFactor = 1.5

	veoRate     = 0.40
	veoFastRate = 0.15
)

// Estimate returns the cost in USD, rounded to cents, for a request. Unknown
// models price at zero; the registry rejects them before submission anyway.
func Estimate(model, size, duration string, generateAudio bool) float64 {
	seconds, _ := strconv.Atoi(duration)
	if seconds <= 0 {
		return 0
	}

	var perSecond float64
	switch {
	case strings.HasPrefix(model, "sora-"):
		perSecond = soraBaseRate
		if model == "sora-2-pro" {
			perSecond = soraProRate
		}
		if strings.Contains(size, "1920") || strings.Contains(size, "1080") {
			perSecond *= soraHiResFactor
		}
	case strings.HasPrefix(model, "veo-"):
		perSecond = veoRate
		if strings.Contains(model, "-fast-") {
			perSecond = veoFastRate
		}
	default:
		return 0
	}

	return math.Round(float64(seconds)*perSecond*100) / 100
}
