package orders

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Total is the parsed form of the stored "<amount> - <method>" string.
type Total struct {
	Amount decimal.Decimal
	Method string
}

// COD reports whether the order is paid on delivery.
func (t Total) COD() bool { return strings.EqualFold(t.Method, "COD") }

// ParseTotal parses "299 - COD". A bare amount yields an empty method.
func ParseTotal(raw string) (Total, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Total{}, fmt.Errorf("total: empty")
	}
	amountPart, method := raw, ""
	if i := strings.LastIndex(raw, " - "); i >= 0 {
		amountPart, method = raw[:i], raw[i+3:]
	}
	amountPart = strings.TrimSpace(amountPart)
	amountPart = strings.TrimLeft(amountPart, "₹$€£ ")
	amountPart = strings.ReplaceAll(amountPart, ",", "")
	amount, err := decimal.NewFromString(amountPart)
	if err != nil {
		return Total{}, fmt.Errorf("total %q: %w", raw, err)
	}
	return Total{Amount: amount, Method: strings.TrimSpace(method)}, nil
}
