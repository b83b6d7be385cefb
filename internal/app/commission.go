/**
 * @description
 * Platform commission calculation. Tiers are volume discounts: the highest threshold the
 * amount reaches sets the rate for the whole amount, and the resulting fee is clamped to the
 * category's minimum and maximum.
 */

package app

import (
	"sort"
	"strings"

	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"github.com/shopspring/decimal"
)

// CommissionCalculator computes platform fees from a fixed tier table.
type CommissionCalculator struct {
	tiers map[string]domain.CommissionTier
}

// NewCommissionCalculator validates the tier table and indexes it by category.
func NewCommissionCalculator(tiers []domain.CommissionTier) (*CommissionCalculator, error) {
	indexed := make(map[string]domain.CommissionTier, len(tiers))
	for _, tier := range tiers {
		category := normalizeCategory(tier.Category)
		if category == "" {
			return nil, domain.Errorf(domain.CodeConfiguration, "commission tier without category")
		}
		if _, exists := indexed[category]; exists {
			return nil, domain.Errorf(domain.CodeConfiguration, "duplicate commission tier for %s", category)
		}

		tier.Category = category
		tier.TieredRates = append([]domain.RateTier(nil), tier.TieredRates...)
		sort.Slice(tier.TieredRates, func(i, j int) bool {
			return tier.TieredRates[i].ThresholdAmount < tier.TieredRates[j].ThresholdAmount
		})
		if err := validateTier(tier); err != nil {
			return nil, err
		}
		indexed[category] = tier
	}
	return &CommissionCalculator{tiers: indexed}, nil
}

func validateTier(tier domain.CommissionTier) error {
	one := decimal.NewFromInt(1)
	if tier.BaseRate.IsNegative() || tier.BaseRate.GreaterThan(one) {
		return domain.Errorf(domain.CodeConfiguration, "%s base rate %s outside [0,1]", tier.Category, tier.BaseRate)
	}
	if tier.MinFee < 0 || tier.MaxFee < 0 {
		return domain.Errorf(domain.CodeConfiguration, "%s fee bounds must not be negative", tier.Category)
	}
	if tier.MaxFee > 0 && tier.MinFee > tier.MaxFee {
		return domain.Errorf(domain.CodeConfiguration, "%s min fee %d above max fee %d", tier.Category, tier.MinFee, tier.MaxFee)
	}

	previousRate := tier.BaseRate
	var previousThreshold int64
	for i, rt := range tier.TieredRates {
		if rt.ThresholdAmount <= 0 {
			return domain.Errorf(domain.CodeConfiguration, "%s tier threshold must be positive", tier.Category)
		}
		if i > 0 && rt.ThresholdAmount == previousThreshold {
			return domain.Errorf(domain.CodeConfiguration, "%s has duplicate threshold %d", tier.Category, rt.ThresholdAmount)
		}
		if rt.Rate.IsNegative() || rt.Rate.GreaterThan(previousRate) {
			return domain.Errorf(domain.CodeConfiguration, "%s tier at %d raises the rate to %s", tier.Category, rt.ThresholdAmount, rt.Rate)
		}
		previousRate = rt.Rate
		previousThreshold = rt.ThresholdAmount
	}
	return nil
}

// Tier returns the schedule for category, falling back to DEFAULT.
func (c *CommissionCalculator) Tier(category string) (domain.CommissionTier, error) {
	if tier, ok := c.tiers[normalizeCategory(category)]; ok {
		return tier, nil
	}
	if tier, ok := c.tiers[domain.DefaultCategory]; ok {
		return tier, nil
	}
	return domain.CommissionTier{}, domain.Errorf(domain.CodeConfiguration, "no commission tier for %q and no %s tier configured", category, domain.DefaultCategory)
}

// CalculateFee returns the platform fee for amount in category.
func (c *CommissionCalculator) CalculateFee(category string, amount int64) (domain.FeeBreakdown, error) {
	if amount <= 0 {
		return domain.FeeBreakdown{}, domain.ErrInvalidAmount
	}

	tier, err := c.Tier(category)
	if err != nil {
		return domain.FeeBreakdown{}, err
	}

	rate := tier.BaseRate
	for _, rt := range tier.TieredRates {
		if rt.ThresholdAmount > amount {
			break
		}
		rate = rt.Rate
	}

	fee := decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
	if fee < tier.MinFee {
		fee = tier.MinFee
	}
	if tier.MaxFee > 0 && fee > tier.MaxFee {
		fee = tier.MaxFee
	}
	if fee > amount {
		return domain.FeeBreakdown{}, domain.Errorf(domain.CodeInvalidAmount, "amount %d does not cover the minimum fee %d", amount, fee)
	}

	return domain.FeeBreakdown{
		FeeAmount:   fee,
		NetAmount:   amount - fee,
		AppliedRate: rate,
	}, nil
}

func normalizeCategory(category string) string {
	return strings.ToUpper(strings.TrimSpace(category))
}

// DefaultCommissionTiers is the table used when no tiers are configured.
func DefaultCommissionTiers() []domain.CommissionTier {
	rate := decimal.RequireFromString
	return []domain.CommissionTier{
		{
			Category: domain.DefaultCategory,
			BaseRate: rate("0.05"),
			TieredRates: []domain.RateTier{
				{ThresholdAmount: 50000, Rate: rate("0.04")},
				{ThresholdAmount: 250000, Rate: rate("0.03")},
			},
			MinFee: 100,
			MaxFee: 25000,
		},
		{
			Category: "VENUE",
			BaseRate: rate("0.03"),
			TieredRates: []domain.RateTier{
				{ThresholdAmount: 10000, Rate: rate("0.02")},
				{ThresholdAmount: 100000, Rate: rate("0.015")},
			},
			MinFee: 50,
			MaxFee: 1000,
		},
		{
			Category: "CATERING",
			BaseRate: rate("0.04"),
			TieredRates: []domain.RateTier{
				{ThresholdAmount: 20000, Rate: rate("0.035")},
				{ThresholdAmount: 100000, Rate: rate("0.03")},
			},
			MinFee: 100,
			MaxFee: 5000,
		},
		{
			Category: "PHOTOGRAPHY",
			BaseRate: rate("0.06"),
			TieredRates: []domain.RateTier{
				{ThresholdAmount: 25000, Rate: rate("0.05")},
			},
			MinFee: 100,
			MaxFee: 3000,
		},
		{
			Category: "ENTERTAINMENT",
			BaseRate: rate("0.05"),
			TieredRates: []domain.RateTier{
				{ThresholdAmount: 30000, Rate: rate("0.04")},
			},
			MinFee: 100,
			MaxFee: 4000,
		},
		{
			Category: "AV_EQUIPMENT",
			BaseRate: rate("0.04"),
			MinFee:   75,
			MaxFee:   2500,
		},
	}
}
