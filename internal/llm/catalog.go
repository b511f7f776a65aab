package llm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog maps pipeline roles to model names, loaded from models.yaml.
// Planning and summarization run fine on a small model; the writer gets the
// default (usually larger) one unless overridden.
type Catalog struct {
	DefaultModel  string            `yaml:"default_model"`
	RoleOverrides map[string]string `yaml:"role_overrides"`
}

// DefaultCatalog returns the built-in model selection.
func DefaultCatalog() *Catalog {
	return &Catalog{
		DefaultModel: "gpt-4o-mini",
		RoleOverrides: map[string]string{
			RoleWriter: "gpt-4o",
		},
	}
}

// LoadCatalog reads a catalog file; missing file falls back to defaults.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultCatalog(), nil
		}
		return nil, fmt.Errorf("read model catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal model catalog: %w", err)
	}
	if c.DefaultModel == "" {
		c.DefaultModel = DefaultCatalog().DefaultModel
	}
	return &c, nil
}

// ModelFor returns the model to use for a role.
func (c *Catalog) ModelFor(role string) string {
	if m, ok := c.RoleOverrides[role]; ok && m != "" {
		return m
	}
	return c.DefaultModel
}
