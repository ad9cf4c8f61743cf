package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
)

type strategy struct {
	pattern  *regexp.Regexp
	provider domain.Provider
}

// Registry implements the ProviderRegistry interface as an ordered strategy
// table of model id patterns.
type Registry struct {
	mu         sync.RWMutex
	strategies []strategy
}

// NewRegistry creates a new provider registry.
func NewRegistry() *Registry {
	return &Registry{
		mu:         sync.RWMutex{},
		strategies: make([]strategy, 0),
	}
}

// Register appends a strategy for model ids matching pattern.
func (r *Registry) Register(_ context.Context, pattern string, provider domain.Provider) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}
	if provider.Name() == "" {
		return errors.New("provider name cannot be empty")
	}
	if pattern == "" {
		return errors.New("pattern cannot be empty")
	}

	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid model pattern %q: %w", pattern, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.strategies {
		if s.pattern.String() == pattern {
			return fmt.Errorf("pattern %s already registered", pattern)
		}
	}

	r.strategies = append(r.strategies, strategy{pattern: compiled, provider: provider})
	return nil
}

// Resolve returns the first provider whose pattern matches model.
func (r *Registry) Resolve(_ context.Context, model string) (domain.Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("%w: model cannot be empty", domain.ErrModelNotSupported)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.strategies {
		if s.pattern.MatchString(model) {
			return s.provider, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", domain.ErrModelNotSupported, model)
}

// List returns registered provider names in match order, without duplicates.
func (r *Registry) List(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.strategies))
	names := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		name := s.provider.Name()
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	return names, nil
}
