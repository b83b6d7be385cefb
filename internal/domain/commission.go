package domain

import "github.com/shopspring/decimal"

// DefaultCategory is the commission tier used when a category has no tier of its own.
const DefaultCategory = "DEFAULT"

// RateTier applies Rate to the whole amount once the amount reaches ThresholdAmount.
type RateTier struct {
	ThresholdAmount int64           `json:"threshold_amount"`
	Rate            decimal.Decimal `json:"rate"`
}

// CommissionTier is a category's rate schedule. MaxFee of zero leaves the fee uncapped.
type CommissionTier struct {
	Category    string          `json:"category"`
	BaseRate    decimal.Decimal `json:"base_rate"`
	TieredRates []RateTier      `json:"tiered_rates"`
	MinFee      int64           `json:"min_fee"`
	MaxFee      int64           `json:"max_fee"`
}

// FeeBreakdown is the platform's share of an amount and what remains for the vendor.
type FeeBreakdown struct {
	FeeAmount   int64           `json:"fee_amount"`
	NetAmount   int64           `json:"net_amount"`
	AppliedRate decimal.Decimal `json:"applied_rate"`
}
