package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/provider/openai"
)

// PricingFile is the YAML pricing table. Model keys are exact ids or id prefixes.
//
//	default_rate: 1.0
//	models:
//	  gpt-4o: 2.5
//	  claude-3-5-haiku: 0.8
type PricingFile struct {
	DefaultRate *float64           `yaml:"default_rate"`
	Models      map[string]float64 `yaml:"models"`
}

// LoadPricing reads a pricing table from path.
func LoadPricing(path string) (*PricingFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}

	var file PricingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}

	if file.DefaultRate != nil && *file.DefaultRate < 0 {
		return nil, errors.New("default_rate cannot be negative")
	}
	for model, rate := range file.Models {
		if rate < 0 {
			return nil, fmt.Errorf("rate for %s cannot be negative", model)
		}
	}

	return &file, nil
}

// Apply registers the table's model rates and returns the effective default rate.
func (f *PricingFile) Apply(ctx context.Context, registry domain.PricingRegistry, fallback float64) (float64, error) {
	for model, rate := range f.Models {
		if err := registry.RegisterPricing(ctx, model, domain.PricingConfig{CreditsPer1K: rate}); err != nil {
			return 0, fmt.Errorf("failed to register pricing for model %s: %w", model, err)
		}
	}

	if f.DefaultRate != nil {
		return *f.DefaultRate, nil
	}
	return fallback, nil
}

// NewCostCalculator builds the rate table: built-in OpenAI rates, then the
// pricing file when configured, over the configured default rate.
func NewCostCalculator(ctx context.Context, cfg *CreditsConfig) (*domain.StandardCostCalculator, error) {
	registry := domain.NewInMemoryPricingRegistry()
	if err := openai.RegisterPricing(ctx, registry); err != nil {
		return nil, err
	}

	rate := cfg.DefaultRate
	if cfg.PricingFile != "" {
		file, err := LoadPricing(cfg.PricingFile)
		if err != nil {
			return nil, err
		}
		if rate, err = file.Apply(ctx, registry, rate); err != nil {
			return nil, err
		}
	}

	return domain.NewStandardCostCalculator(registry, rate), nil
}
