package embed

import (
	"fmt"
	"sort"
	"sync"
)

// ModelSpec describes one named embedding model: which backend serves
// it and at what dimensionality. Adding a model is a registry entry,
// not a new code path.
type ModelSpec struct {
	Name        string `json:"name" mapstructure:"name"`
	Provider    string `json:"provider" mapstructure:"provider"`
	Dimensions  int    `json:"dimensions" mapstructure:"dimensions"`
	BaseURL     string `json:"base_url,omitempty" mapstructure:"base_url"`
	Description string `json:"description,omitempty" mapstructure:"description"`
}

// Registry resolves model names to providers, constructing each
// provider once and caching it for the session.
type Registry struct {
	mu        sync.Mutex
	specs     map[string]ModelSpec
	providers map[string]Provider
	cacheSize int
	apiKey    string
}

// RegistryConfig configures provider construction.
type RegistryConfig struct {
	// Models are the named model specs, usually from configuration.
	Models []ModelSpec

	// CacheSize is the per-provider LRU embedding cache size.
	// Zero disables caching.
	CacheSize int

	// OpenAIAPIKey is passed to openai-backed models. Never logged.
	OpenAIAPIKey string
}

// NewRegistry builds a registry from the given model specs.
func NewRegistry(cfg RegistryConfig) *Registry {
	r := &Registry{
		specs:     make(map[string]ModelSpec, len(cfg.Models)),
		providers: make(map[string]Provider),
		cacheSize: cfg.CacheSize,
		apiKey:    cfg.OpenAIAPIKey,
	}
	for _, m := range cfg.Models {
		r.specs[m.Name] = m
	}
	return r
}

// Models lists the registered model specs in name order.
func (r *Registry) Models() []ModelSpec {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ModelSpec, 0, len(r.specs))
	for _, m := range r.specs {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the provider serving the named model, constructing it on
// first use. Unknown names fail with ErrModelNotFound.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	spec, ok := r.specs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}

	p, err := r.build(spec)
	if err != nil {
		return nil, err
	}
	if r.cacheSize > 0 {
		p, err = Cached(p, r.cacheSize)
		if err != nil {
			return nil, err
		}
	}
	r.providers[name] = p
	return p, nil
}

func (r *Registry) build(spec ModelSpec) (Provider, error) {
	switch spec.Provider {
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			Model:      spec.Name,
			APIKey:     r.apiKey,
			BaseURL:    spec.BaseURL,
			Dimensions: spec.Dimensions,
		}), nil
	case "ollama":
		return NewOllamaProvider(OllamaConfig{
			Model:      spec.Name,
			URL:        spec.BaseURL,
			Dimensions: spec.Dimensions,
		}), nil
	case "hash":
		return NewHashProvider(spec.Name, spec.Dimensions), nil
	default:
		return nil, fmt.Errorf("%w: model %s has unknown provider %q", ErrModelNotFound, spec.Name, spec.Provider)
	}
}

// DefaultModels returns the built-in model catalog. Config entries
// with the same names override these.
func DefaultModels() []ModelSpec {
	return []ModelSpec{
		{
			Name:        "nomic-embed-text",
			Provider:    "ollama",
			Dimensions:  768,
			Description: "Local general purpose model served by Ollama",
		},
		{
			Name:        "text-embedding-3-small",
			Provider:    "openai",
			Dimensions:  1536,
			Description: "OpenAI hosted model, fast and inexpensive",
		},
		{
			Name:        "text-embedding-3-large",
			Provider:    "openai",
			Dimensions:  3072,
			Description: "OpenAI hosted model, higher quality",
		},
		{
			Name:        "hash-384",
			Provider:    "hash",
			Dimensions:  384,
			Description: "Deterministic offline model for tests and demos",
		},
	}
}
