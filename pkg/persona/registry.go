// Package persona maps caller-entered selection keys (DTMF digits) to the
// system prompt fixing the AI persona for a call. The registry is loaded
// once at startup and immutable afterwards; every session resolves its
// prompt exactly once, at creation.
package persona

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// DefaultKey is the distinguished entry returned when a selection key has
// no match. Not matching is an expected outcome, not an error.
const DefaultKey = "default"

const builtinDefaultPrompt = "You are a friendly voice assistant on a phone call. " +
	"Keep responses short, natural and conversational."

// Registry is a read-only selection-key to system-prompt table.
type Registry struct {
	prompts       map[string]string
	defaultPrompt string
}

// NewRegistry builds a registry from the given table. The table is copied;
// if it carries no "default" entry the built-in default prompt is used.
func NewRegistry(prompts map[string]string) *Registry {
	r := &Registry{
		prompts:       make(map[string]string, len(prompts)),
		defaultPrompt: builtinDefaultPrompt,
	}
	for key, prompt := range prompts {
		if prompt == "" {
			continue
		}
		if key == DefaultKey {
			r.defaultPrompt = prompt
			continue
		}
		r.prompts[key] = prompt
	}
	return r
}

// LoadFile loads a JSON object of selection-key to prompt entries. An empty
// path yields a registry with only the built-in default.
func LoadFile(path string, logger *zap.Logger) (*Registry, error) {
	if path == "" {
		logger.Info("No persona file configured, using built-in default persona")
		return NewRegistry(nil), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}

	var prompts map[string]string
	if err := json.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("failed to parse persona file: %w", err)
	}

	r := NewRegistry(prompts)
	logger.Info("Loaded personas",
		zap.String("file", path),
		zap.Int("count", r.Len()),
	)
	return r, nil
}

// Resolve returns the prompt for selectionKey, or the default prompt when
// the key is empty or has no match.
func (r *Registry) Resolve(selectionKey string) string {
	if prompt, ok := r.prompts[selectionKey]; ok {
		return prompt
	}
	return r.defaultPrompt
}

// Len returns the number of non-default entries.
func (r *Registry) Len() int {
	return len(r.prompts)
}
