package llm

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// ProviderKind selects the wire protocol of a catalog entry.
type ProviderKind string

const (
	KindOpenAI ProviderKind = "openai" // OpenAI-compatible chat completions (OpenAI, Mistral)
	KindGemini ProviderKind = "gemini"
	KindOllama ProviderKind = "ollama"
)

// ProviderConfig is one entry of the provider catalog.
type ProviderConfig struct {
	ID         string       `yaml:"id" json:"id"`
	Name       string       `yaml:"name" json:"name"`
	Icon       string       `yaml:"icon" json:"icon"`
	Kind       ProviderKind `yaml:"kind" json:"kind"`
	BaseURL    string       `yaml:"base_url" json:"-"`
	BaseURLEnv string       `yaml:"base_url_env" json:"-"`
	// Credential is the key name looked up in the credential source; empty means none required.
	Credential string   `yaml:"credential" json:"credential,omitempty"`
	Models     []string `yaml:"models" json:"models"`
}

// HasModel reports whether model is listed for this provider.
func (p ProviderConfig) HasModel(model string) bool {
	return slices.Contains(p.Models, model)
}

// Catalog is the immutable list of selectable providers and models.
type Catalog struct {
	DefaultProvider string           `yaml:"default_provider" json:"default_provider"`
	DefaultModel    string           `yaml:"default_model" json:"default_model"`
	Providers       []ProviderConfig `yaml:"providers" json:"providers"`
}

// LoadCatalog reads a YAML catalog from path, or the built-in one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalogYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read catalog: %v", ErrConfiguration, err)
	}
	return ParseCatalog(data)
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("llm: built-in catalog is invalid: %v", err))
	}
	return c
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: parse catalog: %v", ErrConfiguration, err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("%w: catalog has no providers", ErrConfiguration)
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		switch {
		case p.ID == "":
			return fmt.Errorf("%w: provider without id", ErrConfiguration)
		case seen[p.ID]:
			return fmt.Errorf("%w: duplicate provider %q", ErrConfiguration, p.ID)
		case len(p.Models) == 0:
			return fmt.Errorf("%w: provider %q lists no models", ErrConfiguration, p.ID)
		}
		switch p.Kind {
		case KindOpenAI, KindGemini, KindOllama:
		default:
			return fmt.Errorf("%w: provider %q has unknown kind %q", ErrConfiguration, p.ID, p.Kind)
		}
		seen[p.ID] = true
	}
	if c.DefaultProvider == "" {
		c.DefaultProvider = c.Providers[0].ID
		c.DefaultModel = c.Providers[0].Models[0]
	}
	return c.Validate(c.DefaultProvider, c.DefaultModel)
}

// Provider looks up a provider by id.
func (c *Catalog) Provider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// Validate checks that (provider, model) is a selectable pair.
func (c *Catalog) Validate(providerID, model string) error {
	p, ok := c.Provider(providerID)
	if !ok {
		return fmt.Errorf("%w: unknown provider %q", ErrConfiguration, providerID)
	}
	if !p.HasModel(model) {
		return fmt.Errorf("%w: %q is not offered by %s", ErrInvalidModel, model, p.Name)
	}
	return nil
}

// WithDefault returns a copy of c whose default selection is (provider, model).
// Empty arguments keep the current default; an empty model picks the provider's first model.
func (c *Catalog) WithDefault(providerID, model string) (*Catalog, error) {
	out := *c
	out.Providers = slices.Clone(c.Providers)
	if providerID == "" {
		return &out, nil
	}
	if model == "" {
		if p, ok := c.Provider(providerID); ok {
			model = p.Models[0]
		}
	}
	if err := out.Validate(providerID, model); err != nil {
		return nil, err
	}
	out.DefaultProvider, out.DefaultModel = providerID, model
	return &out, nil
}
