package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// RouterOptions configures the adapters the Router builds.
type RouterOptions struct {
	Timeout    time.Duration // longest provider silence before a call fails; 0 means 60s
	Retry      RetryPolicy
	HTTPClient *http.Client // shared client
	Logger     *slog.Logger
}

// Router resolves a (provider, model) selection into a ready LLMProvider.
// Selections are validated against the catalog and the credential source
// before any network traffic happens.
type Router struct {
	catalog *Catalog
	creds   Credentials
	opts    RouterOptions

	mu        sync.RWMutex
	providers map[string]LLMProvider // explicit registrations, keyed by provider id
	adapters  map[adapterKey]LLMProvider
}

// adapterKey identifies a built adapter. A rotated credential or endpoint yields a new one.
type adapterKey struct {
	provider, model, apiKey, baseURL string
}

// NewRouter creates a Router over catalog, resolving secrets through creds.
func NewRouter(catalog *Catalog, creds Credentials, opts RouterOptions) *Router {
	if creds == nil {
		creds = EnvCredentials{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Router{
		catalog:   catalog,
		creds:     creds,
		opts:      opts,
		providers: map[string]LLMProvider{},
		adapters:  map[adapterKey]LLMProvider{},
	}
}

// Register pins an adapter instance for a catalog provider id, bypassing construction.
// Catalog and credential validation still apply. Useful for tests and custom backends.
func (r *Router) Register(providerID string, p LLMProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[providerID] = p
	for k := range r.adapters {
		if k.provider == providerID {
			delete(r.adapters, k)
		}
	}
}

// Catalog returns the catalog the router validates against.
func (r *Router) Catalog() *Catalog { return r.catalog }

// Route returns a retrying adapter for (providerID, model). Adapters are built
// once and reused while the credential and endpoint stay the same.
//
// Errors: ErrConfiguration for an unknown provider, ErrInvalidModel for a model
// outside the provider's list, ErrAuthentication when a required credential is missing.
func (r *Router) Route(_ context.Context, providerID, model string) (LLMProvider, error) {
	if err := r.catalog.Validate(providerID, model); err != nil {
		return nil, err
	}
	cfg, _ := r.catalog.Provider(providerID)

	var apiKey string
	if cfg.Credential != "" {
		v, ok := r.creds.Lookup(cfg.Credential)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not configured for %s", ErrAuthentication, cfg.Credential, cfg.Name)
		}
		apiKey = v
	}

	key := adapterKey{provider: providerID, model: model, apiKey: apiKey, baseURL: r.baseURL(cfg)}
	r.mu.RLock()
	cached, ok := r.adapters[key]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.adapters[key]; ok {
		return cached, nil
	}
	p, registered := r.providers[providerID]
	if !registered {
		var err error
		if p, err = r.build(cfg, model, apiKey, key.baseURL); err != nil {
			return nil, err
		}
	}
	wrapped := NewRetryingProvider(p, r.opts.Retry, WithRetryLogger(r.opts.Logger))
	r.adapters[key] = wrapped
	return wrapped, nil
}

// baseURL returns the provider endpoint, preferring the credential-sourced override.
func (r *Router) baseURL(cfg ProviderConfig) string {
	if cfg.BaseURLEnv != "" {
		if v, ok := r.creds.Lookup(cfg.BaseURLEnv); ok {
			return v
		}
	}
	return cfg.BaseURL
}

func (r *Router) build(cfg ProviderConfig, model, apiKey, baseURL string) (LLMProvider, error) {
	opts := []Option{WithTimeout(r.opts.Timeout)}
	if r.opts.Timeout <= 0 {
		opts = opts[:0]
	}
	if r.opts.HTTPClient != nil {
		opts = append(opts, WithHTTPClient(r.opts.HTTPClient))
	}
	if baseURL != "" {
		opts = append(opts, WithBaseURL(baseURL))
	}

	switch cfg.Kind {
	case KindOpenAI:
		return NewOpenAIProvider(cfg.ID, apiKey, model, opts...), nil
	case KindGemini:
		return NewGeminiProvider(apiKey, model, opts...), nil
	case KindOllama:
		return NewOllamaProvider(baseURL, model, opts...), nil
	}
	return nil, fmt.Errorf("%w: provider %q has unknown kind %q", ErrConfiguration, cfg.ID, cfg.Kind)
}
