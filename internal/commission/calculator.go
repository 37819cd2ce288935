// Package commission splits a gross course payment between the platform and the
// educator after the processor's estimated cut.
package commission

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/coursepay/pkg/config"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
)

var (
	hundred = decimal.NewFromInt(100)

	// MinimumAmount is the smallest chargeable gross amount.
	MinimumAmount = decimal.RequireFromString("0.50")

	tierHigh         = decimal.NewFromInt(500)
	tierMid          = decimal.NewFromInt(200)
	tierHighDiscount = decimal.NewFromInt(5)
	tierMidDiscount  = decimal.NewFromInt(2)
)

// Split is the outcome of one commission calculation. All values carry two decimals.
type Split struct {
	Amount             decimal.Decimal `json:"amount"`
	ProcessorFee       decimal.Decimal `json:"processorFee"`
	NetAmount          decimal.Decimal `json:"netAmount"`
	RatePercent        decimal.Decimal `json:"ratePercent"`
	PlatformCommission decimal.Decimal `json:"platformCommission"`
	EducatorEarnings   decimal.Decimal `json:"educatorEarnings"`
}

// Calculator is immutable once built and safe for concurrent use.
type Calculator struct {
	rate       decimal.Decimal
	fixedFee   decimal.Decimal
	percentFee decimal.Decimal
	minimum    decimal.Decimal
	maxShare   decimal.Decimal
}

// NewCalculator builds a calculator from the commission configuration.
func NewCalculator(cfg config.CommissionConfig) (*Calculator, error) {
	if cfg.RatePercent.IsNegative() || cfg.RatePercent.GreaterThan(hundred) {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "commission rate must be between 0 and 100")
	}
	if cfg.MaxShare.LessThanOrEqual(decimal.Zero) || cfg.MaxShare.GreaterThan(decimal.NewFromInt(1)) {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "commission max share must be in (0, 1]")
	}
	if cfg.ProcessorFixedFee.IsNegative() || cfg.ProcessorPercentFee.IsNegative() || cfg.MinCommission.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "commission fees must not be negative")
	}
	return &Calculator{
		rate:       cfg.RatePercent,
		fixedFee:   cfg.ProcessorFixedFee,
		percentFee: cfg.ProcessorPercentFee,
		minimum:    cfg.MinCommission,
		maxShare:   cfg.MaxShare,
	}, nil
}

// EffectiveRate returns the tiered commission rate (in percent) applied to amount.
// Larger tickets get a lower rate: >= 500 takes 5 points off, >= 200 takes 2.
func (c *Calculator) EffectiveRate(amount decimal.Decimal) decimal.Decimal {
	rate := c.rate
	switch {
	case amount.GreaterThanOrEqual(tierHigh):
		rate = rate.Sub(tierHighDiscount)
	case amount.GreaterThanOrEqual(tierMid):
		rate = rate.Sub(tierMidDiscount)
	}
	if rate.IsNegative() {
		return decimal.Zero
	}
	return rate
}

// ProcessorFee estimates the gateway's own cut of a charge.
func (c *Calculator) ProcessorFee(amount decimal.Decimal) decimal.Decimal {
	return c.fixedFee.Add(amount.Mul(c.percentFee).Div(hundred))
}

// Split computes the platform/educator split for a gross amount. educatorID is
// accepted for per-educator tiers and does not influence the result today.
func (c *Calculator) Split(amount decimal.Decimal, educatorID string) (Split, error) {
	_ = educatorID
	if !amount.IsPositive() {
		return Split{}, pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	}
	if amount.LessThan(MinimumAmount) {
		return Split{}, pkgerrors.New(pkgerrors.CodeValidation, "amount is below the minimum chargeable amount").
			WithDetails(map[string]any{"minimum": MinimumAmount.StringFixed(2)})
	}
	if !amount.Equal(amount.Truncate(2)) {
		return Split{}, pkgerrors.New(pkgerrors.CodeValidation, "amount must have at most two decimals")
	}

	rate := c.EffectiveRate(amount)
	fee := c.ProcessorFee(amount)
	net := amount.Sub(fee).Round(2)

	commission := net.Mul(rate).Div(hundred).Round(2)
	if commission.LessThan(c.minimum) {
		commission = c.minimum
	}
	// On small tickets the minimum can exceed both the share cap and what the
	// processor fee leaves, so the commission is bounded by both.
	commission = decimal.Min(commission, amount.Mul(c.maxShare).Truncate(2), net)

	return Split{
		Amount:             amount,
		ProcessorFee:       fee.Round(2),
		NetAmount:          net,
		RatePercent:        rate,
		PlatformCommission: commission,
		EducatorEarnings:   net.Sub(commission),
	}, nil
}
