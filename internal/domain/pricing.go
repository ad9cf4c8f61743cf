package domain

import "context"

// PricingConfig contains the credit rate of a model.
type PricingConfig struct {
	CreditsPer1K float64 // credits per 1K tokens
}

// CostCalculator converts token counts to credits.
type CostCalculator interface {
	// CostOf returns rate(model) × tokens / 1000. Unknown models use the default rate.
	CostOf(ctx context.Context, model string, tokens int) (float64, error)
}

// PricingRegistry maintains pricing information for models.
type PricingRegistry interface {
	// GetPricing returns pricing config for a model, matching exact ids before prefixes.
	GetPricing(ctx context.Context, model string) (PricingConfig, error)

	// RegisterPricing adds pricing for a model id or id prefix.
	RegisterPricing(ctx context.Context, model string, config PricingConfig) error
}
