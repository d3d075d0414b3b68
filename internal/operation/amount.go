package operation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimal is the fixed-point type used for every amount comparison.
type Decimal = decimal.Decimal

// Zero is the amount assumed when a payload carries none.
var Zero = decimal.Zero

// AmountKey is the payload field thresholds are evaluated against.
const AmountKey = "amount"

// ParseAmount extracts the amount from a payload. A missing amount is zero.
// Negative and non-numeric values are rejected.
func ParseAmount(data map[string]any) (Decimal, error) {
	raw, ok := data[AmountKey]
	if !ok || raw == nil {
		return Zero, nil
	}
	d, err := toDecimal(raw)
	if err != nil {
		return Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, raw)
	}
	if d.IsNegative() {
		return Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, d.String())
	}
	return d, nil
}

// AmountOf is the lenient form of ParseAmount used inside the control plane:
// anything unusable resolves to zero, the lowest risk tier.
func AmountOf(data map[string]any) Decimal {
	d, err := ParseAmount(data)
	if err != nil {
		return Zero
	}
	return d
}

func toDecimal(v any) (Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return Zero, fmt.Errorf("non-finite amount")
		}
		return decimal.NewFromFloat(n), nil
	case float32:
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return Zero, fmt.Errorf("non-finite amount")
		}
		return decimal.NewFromFloat32(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int32:
		return decimal.NewFromInt32(n), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case uint64:
		return decimal.NewFromString(strconv.FormatUint(n, 10))
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(n))
	default:
		return Zero, fmt.Errorf("unsupported amount type %T", v)
	}
}
