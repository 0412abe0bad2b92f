package provider

import (
	"fmt"
	"strings"
	"sync"
)

// Provider names as stored in job records.
const (
	NameSora = "sora"
	NameVeo  = "veo"
)

// Credentials carries the per-provider API keys the registry binds clients to.
type Credentials struct {
	OpenAIAPIKey string
	GoogleAPIKey string
}

// Registry maps model identifiers to provider names and hands out cached
// clients bound to the right credential. The cache only avoids re-creating
// HTTP client state; cached clients are functionally equivalent to fresh ones.
type Registry struct {
	creds     Credentials
	videosDir string
	ffmpegBin string

	mu      sync.Mutex
	clients map[string]Client
}

// NewRegistry builds a registry for the built-in providers. videosDir is
// where adapters write downloaded artifacts; ffmpegBin is used by adapters
// that synthesize thumbnails locally.
func NewRegistry(creds Credentials, videosDir, ffmpegBin string) *Registry {
	return &Registry{
		creds:     creds,
		videosDir: videosDir,
		ffmpegBin: ffmpegBin,
		clients:   make(map[string]Client),
	}
}

// Resolve maps a model identifier to a provider name by prefix.
func (r *Registry) Resolve(model string) (string, error) {
	switch {
	case strings.HasPrefix(model, "sora-"):
		return NameSora, nil
	case strings.HasPrefix(model, "veo-"):
		return NameVeo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
}

// Client returns the cached client for a provider name, creating it on first
// use. Repeated calls with the same (provider, credential) pair return the
// same instance.
func (r *Registry) Client(name string) (Client, error) {
	key, err := r.credentialFor(name)
	if err != nil {
		return nil, err
	}

	cacheKey := name + ":" + key
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[cacheKey]; ok {
		return c, nil
	}

	var c Client
	switch name {
	case NameSora:
		c = NewSora(key, r.videosDir)
	case NameVeo:
		c = NewVeo(key, r.videosDir, r.ffmpegBin)
	default:
		return nil, fmt.Errorf("%w: provider %q", ErrUnknownModel, name)
	}
	r.clients[cacheKey] = c
	return c, nil
}

// SupportedModels lists the models each registered provider claims.
func (r *Registry) SupportedModels() map[string][]string {
	out := make(map[string][]string, 2)
	for _, name := range []string{NameSora, NameVeo} {
		if c, err := r.Client(name); err == nil {
			out[name] = c.Capabilities().Models
		}
	}
	return out
}

func (r *Registry) credentialFor(name string) (string, error) {
	switch name {
	case NameSora:
		return r.creds.OpenAIAPIKey, nil
	case NameVeo:
		return r.creds.GoogleAPIKey, nil
	default:
		return "", fmt.Errorf("%w: provider %q", ErrUnknownModel, name)
	}
}
