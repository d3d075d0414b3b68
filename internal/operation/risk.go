package operation

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RiskLevel is the tier assigned to an operation.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Valid reports whether r is one of the four tiers.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Default threshold amounts.
var (
	DefaultAutoApproveAmount  = decimal.NewFromInt(1000)
	DefaultManualReviewAmount = decimal.NewFromInt(10000)
	DefaultCriticalAmount     = decimal.NewFromInt(50000)
)

// Thresholds are the amount boundaries that drive classification.
type Thresholds struct {
	AutoApprove  Decimal `json:"autoApprove"`
	ManualReview Decimal `json:"manualReview"`
	Critical     Decimal `json:"critical"`
}

// DefaultThresholds returns 1000 / 10000 / 50000.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AutoApprove:  DefaultAutoApproveAmount,
		ManualReview: DefaultManualReviewAmount,
		Critical:     DefaultCriticalAmount,
	}
}

// Validate checks 0 <= AutoApprove <= ManualReview <= Critical.
func (t Thresholds) Validate() error {
	if t.AutoApprove.IsNegative() {
		return fmt.Errorf("auto-approve amount must not be negative")
	}
	if t.ManualReview.LessThan(t.AutoApprove) {
		return fmt.Errorf("manual-review amount %s is below auto-approve amount %s", t.ManualReview, t.AutoApprove)
	}
	if t.Critical.LessThan(t.ManualReview) {
		return fmt.Errorf("critical amount %s is below manual-review amount %s", t.Critical, t.ManualReview)
	}
	return nil
}

// Classify maps an amount to a risk tier. Deterministic and amount-only.
func (t Thresholds) Classify(amount Decimal) RiskLevel {
	switch {
	case amount.LessThan(t.AutoApprove):
		return RiskLow
	case amount.LessThan(t.ManualReview):
		return RiskMedium
	case amount.LessThan(t.Critical):
		return RiskHigh
	default:
		return RiskCritical
	}
}

// RequiresManualReview is true at or above the manual-review amount.
func (t Thresholds) RequiresManualReview(amount Decimal) bool {
	return amount.GreaterThanOrEqual(t.ManualReview)
}

// IsCritical is true at or above the critical amount.
func (t Thresholds) IsCritical(amount Decimal) bool {
	return amount.GreaterThanOrEqual(t.Critical)
}
