package openai

import (
	"context"
	"fmt"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
)

// defaultRates are credits per 1K tokens keyed by model id prefix. Entries
// in the pricing file override them.
//
//nolint:gochecknoglobals // Read-only rate table
var defaultRates = map[string]float64{
	"gpt-4o-mini":   0.15,
	"gpt-4o":        2.5,
	"gpt-4-turbo":   10,
	"gpt-4":         30,
	"gpt-3.5-turbo": 0.5,
	"o1":            15,
	"o3-mini":       1.1,
}

// RegisterPricing registers OpenAI model pricing with the registry.
func RegisterPricing(ctx context.Context, registry domain.PricingRegistry) error {
	for model, rate := range defaultRates {
		if err := registry.RegisterPricing(ctx, model, domain.PricingConfig{CreditsPer1K: rate}); err != nil {
			return fmt.Errorf("failed to register pricing for model %s: %w", model, err)
		}
	}

	return nil
}
