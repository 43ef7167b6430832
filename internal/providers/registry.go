package providers

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// ModelSpec describes one model in the registry: which provider serves it,
// how big its window is, and what it costs. Prices are USD per million
// tokens; a local model leaves them zero and reports no cost.
type ModelSpec struct {
	ID              string  `json:"id"`
	Provider        string  `json:"provider"` // "anthropic" or "openai"
	BaseURL         string  `json:"baseUrl,omitempty"`
	ContextWindow   int     `json:"contextWindow,omitempty"`
	MaxTokens       int     `json:"maxTokens,omitempty"`
	InputPrice      float64 `json:"inputPrice,omitempty"`
	OutputPrice     float64 `json:"outputPrice,omitempty"`
	CacheReadPrice  float64 `json:"cacheReadPrice,omitempty"`
	CacheWritePrice float64 `json:"cacheWritePrice,omitempty"`
	Local           bool    `json:"local,omitempty"`

	// ThinkingInThread opts the model's thinking content into thread
	// posts; thinking is always logged regardless.
	ThinkingInThread bool `json:"thinkingInThread,omitempty"`
}

// Cost computes the USD cost of a usage record under this model's pricing.
func (m ModelSpec) Cost(u *Usage) float64 {
	if u == nil {
		return 0
	}
	const million = 1_000_000
	cost := float64(u.PromptTokens) * m.InputPrice / million
	cost += float64(u.CompletionTokens) * m.OutputPrice / million
	cost += float64(u.CacheReadTokens) * m.CacheReadPrice / million
	cost += float64(u.CacheCreationTokens) * m.CacheWritePrice / million
	return cost
}

// builtinModels covers the common hosted models so a fresh install works
// without a registry file.
var builtinModels = map[string]ModelSpec{
	"claude-sonnet-4-5-20250929": {
		ID: "claude-sonnet-4-5-20250929", Provider: "anthropic",
		ContextWindow: 200000, MaxTokens: 8192,
		InputPrice: 3, OutputPrice: 15, CacheReadPrice: 0.3, CacheWritePrice: 3.75,
	},
	"claude-opus-4-1-20250805": {
		ID: "claude-opus-4-1-20250805", Provider: "anthropic",
		ContextWindow: 200000, MaxTokens: 8192,
		InputPrice: 15, OutputPrice: 75, CacheReadPrice: 1.5, CacheWritePrice: 18.75,
	},
	"claude-3-5-haiku-20241022": {
		ID: "claude-3-5-haiku-20241022", Provider: "anthropic",
		ContextWindow: 200000, MaxTokens: 8192,
		InputPrice: 0.8, OutputPrice: 4, CacheReadPrice: 0.08, CacheWritePrice: 1,
	},
	"gpt-4o": {
		ID: "gpt-4o", Provider: "openai",
		ContextWindow: 128000, MaxTokens: 8192,
		InputPrice: 2.5, OutputPrice: 10, CacheReadPrice: 1.25,
	},
	"gpt-4o-mini": {
		ID: "gpt-4o-mini", Provider: "openai",
		ContextWindow: 128000, MaxTokens: 8192,
		InputPrice: 0.15, OutputPrice: 0.6, CacheReadPrice: 0.075,
	},
}

// ModelRegistry resolves model IDs to their specs.
type ModelRegistry struct {
	models map[string]ModelSpec
}

// LoadModelRegistry builds the registry from the builtins overlaid with the
// JSON5 file at path (when it exists). File entries win over builtins.
func LoadModelRegistry(path string) (*ModelRegistry, error) {
	if path == "" {
		return ParseModelRegistry(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ParseModelRegistry(nil)
		}
		return nil, fmt.Errorf("read models file: %w", err)
	}
	reg, err := ParseModelRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("models file %s: %w", path, err)
	}
	return reg, nil
}

// ParseModelRegistry overlays a JSON5 model list (such as the MODELS_JSON
// env value) on the builtins. Empty input yields the builtins alone.
func ParseModelRegistry(data []byte) (*ModelRegistry, error) {
	models := make(map[string]ModelSpec, len(builtinModels))
	for id, spec := range builtinModels {
		models[id] = spec
	}

	if len(data) > 0 {
		var entries []ModelSpec
		if err := json5.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse models: %w", err)
		}
		for _, spec := range entries {
			if spec.ID == "" {
				return nil, fmt.Errorf("model entry missing id")
			}
			models[spec.ID] = spec
		}
	}

	return &ModelRegistry{models: models}, nil
}

// Lookup returns the spec for a model ID. Unknown models get a 200k-window
// spec with zero pricing so new models work before the registry catches up.
func (r *ModelRegistry) Lookup(modelID, providerHint string) ModelSpec {
	if spec, ok := r.models[modelID]; ok {
		return spec
	}
	return ModelSpec{ID: modelID, Provider: providerHint, ContextWindow: 200000}
}

// IDs returns the registered model IDs.
func (r *ModelRegistry) IDs() []string {
	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	return ids
}
