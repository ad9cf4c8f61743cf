package domain

import (
	"context"
	"errors"
	"fmt"
)

const tokensToPerK = 1000.0

// StandardCostCalculator implements token-based credit calculation.
type StandardCostCalculator struct {
	pricingRegistry PricingRegistry
	defaultRate     float64
}

// NewStandardCostCalculator creates a new cost calculator. defaultRate is
// the credits per 1K tokens charged for models with no registered pricing.
func NewStandardCostCalculator(registry PricingRegistry, defaultRate float64) *StandardCostCalculator {
	return &StandardCostCalculator{
		pricingRegistry: registry,
		defaultRate:     defaultRate,
	}
}

// CostOf computes the credits for tokens on model.
func (c *StandardCostCalculator) CostOf(
	ctx context.Context,
	model string,
	tokens int,
) (float64, error) {
	if model == "" {
		return 0, errors.New("model cannot be empty")
	}
	if tokens < 0 {
		return 0, fmt.Errorf("negative token count: %d", tokens)
	}

	rate := c.defaultRate
	pricing, err := c.pricingRegistry.GetPricing(ctx, model)
	switch {
	case err == nil:
		rate = pricing.CreditsPer1K
	case !errors.Is(err, ErrPricingNotFound):
		return 0, fmt.Errorf("failed to get pricing: %w", err)
	}

	return RoundCredits(rate * float64(tokens) / tokensToPerK), nil
}
