package config

import (
	"fmt"
	"sort"
	"strings"
)

// Family is the logical model family that decides request shape and
// response parsing in the invocation adapter.
type Family int

// Model families.
const (
	FamilyText  Family = iota // Converse / ConverseStream, may carry attachments
	FamilyImage               // Nova Canvas text-to-image via InvokeModel
	FamilyVideo               // Nova Reel async video generation
)

// String implements Stringer for log output.
func (f Family) String() string {
	switch f {
	case FamilyImage:
		return "image"
	case FamilyVideo:
		return "video"
	default:
		return "text"
	}
}

// DetectFamily classifies a model ID into a Family.
// Dispatch follows the model ID substring, not the display name, so
// catalog overrides and raw IDs behave identically.
func DetectFamily(modelID string) Family {
	switch {
	case strings.Contains(modelID, "nova-canvas"):
		return FamilyImage
	case strings.Contains(modelID, "nova-reel"):
		return FamilyVideo
	default:
		return FamilyText
	}
}

// defaultCatalog maps display names to model IDs per region. Cross-region
// inference profiles (eu./us. prefixes) are used where the bare model ID
// is not invocable in that region.
var defaultCatalog = map[string]map[string]string{
	"us-east-1": {
		"Nova Lite":         "us.amazon.nova-lite-v1:0",
		"Nova Pro":          "us.amazon.nova-pro-v1:0",
		"Nova Canvas":       "amazon.nova-canvas-v1:0",
		"Nova Reel":         "amazon.nova-reel-v1:0",
		"Claude 3.5 Sonnet": "us.anthropic.claude-3-5-sonnet-20241022-v2:0",
		"Claude 3.5 Haiku":  "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	},
	"us-west-2": {
		"Nova Lite":         "us.amazon.nova-lite-v1:0",
		"Nova Pro":          "us.amazon.nova-pro-v1:0",
		"Claude 3.5 Sonnet": "us.anthropic.claude-3-5-sonnet-20241022-v2:0",
		"Claude 3.5 Haiku":  "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	},
	"eu-central-1": {
		"Nova Lite":         "eu.amazon.nova-lite-v1:0",
		"Nova Pro":          "eu.amazon.nova-pro-v1:0",
		"Claude 3.5 Sonnet": "eu.anthropic.claude-3-5-sonnet-20240620-v1:0",
		"Claude 3 Haiku":    "eu.anthropic.claude-3-haiku-20240307-v1:0",
	},
	"eu-west-1": {
		"Nova Lite":         "eu.amazon.nova-lite-v1:0",
		"Nova Pro":          "eu.amazon.nova-pro-v1:0",
		"Claude 3.5 Sonnet": "eu.anthropic.claude-3-5-sonnet-20240620-v1:0",
	},
	"ap-south-1": {
		"Nova Lite":         "apac.amazon.nova-lite-v1:0",
		"Claude 3.5 Sonnet": "apac.anthropic.claude-3-5-sonnet-20241022-v2:0",
	},
}

// fallbackCatalog serves regions without a dedicated catalog entry.
var fallbackCatalog = map[string]string{
	"Nova Lite": "amazon.nova-lite-v1:0",
	"Nova Pro":  "amazon.nova-pro-v1:0",
}

// Catalog returns the model catalog for the configured region: the
// built-in entries merged with (and overridden by) cfg.Models.
func (c *Config) Catalog() map[string]string {
	base, ok := defaultCatalog[c.Region]
	if !ok {
		base = fallbackCatalog
	}
	merged := make(map[string]string, len(base)+len(c.Models))
	for name, id := range base {
		merged[name] = id
	}
	for name, id := range c.Models {
		merged[name] = id
	}
	return merged
}

// ModelNames returns the catalog display names in stable order.
func (c *Config) ModelNames() []string {
	catalog := c.Catalog()
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModelID resolves cfg.Model to an invocable model ID. A catalog name
// wins; anything containing a "." is accepted as a raw model ID.
func (c *Config) ModelID() (string, error) {
	if id, ok := c.Catalog()[c.Model]; ok {
		return id, nil
	}
	if strings.Contains(c.Model, ".") {
		return c.Model, nil
	}
	return "", fmt.Errorf("%w: %q (available: %v)", ErrUnknownModel, c.Model, c.ModelNames())
}

// ModelFamily returns the family of the resolved model.
func (c *Config) ModelFamily() (Family, error) {
	id, err := c.ModelID()
	if err != nil {
		return FamilyText, err
	}
	return DetectFamily(id), nil
}
