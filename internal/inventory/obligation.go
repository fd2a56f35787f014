package inventory

import "github.com/ariefcatur/go-delivery-console/internal/orders"

// Obligation is the stock action an order's current state calls for.
type Obligation int

const (
	None Obligation = iota
	Deduct
	Restore
)

func (o Obligation) String() string {
	switch o {
	case Deduct:
		return orders.AdjustDeduct
	case Restore:
		return orders.AdjustRestore
	}
	return "none"
}

// ObligationFor derives the obligation from the stock_reduced witness and the
// status alone, so evaluating it any number of times is safe.
func ObligationFor(o orders.Order) Obligation {
	switch {
	case !o.StockReduced && o.Status != orders.StatusCancelled:
		return Deduct
	case o.StockReduced && o.Status == orders.StatusCancelled:
		return Restore
	}
	return None
}
