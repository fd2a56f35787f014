package alerts

import (
	"sort"
	"sync"

	"github.com/ariefcatur/go-delivery-console/internal/orders"
)

// LowStock is one downward threshold crossing.
type LowStock struct {
	ProductID string
	Variant   string
	Name      string
	Quantity  int
}

// StockTracker fires when a quantity moves from above the threshold to at or
// below it. The first observation of a key only sets the baseline.
type StockTracker struct {
	mu        sync.Mutex
	threshold int
	last      map[string]int
}

func NewStockTracker(threshold int) *StockTracker {
	return &StockTracker{threshold: threshold, last: map[string]int{}}
}

// Observe reports whether qty for key crosses the threshold downwards.
func (s *StockTracker) Observe(key string, qty int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, seen := s.last[key]
	s.last[key] = qty
	return seen && prev > s.threshold && qty <= s.threshold
}

// ObserveProducts feeds every product and variant quantity of a snapshot.
func (s *StockTracker) ObserveProducts(products map[string]orders.Product) []LowStock {
	ids := make([]string, 0, len(products))
	for id := range products {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []LowStock
	for _, id := range ids {
		p := products[id]
		if len(p.Variants) == 0 {
			if s.Observe(id, p.Quantity) {
				out = append(out, LowStock{ProductID: id, Name: p.Name, Quantity: p.Quantity})
			}
			continue
		}
		variants := make([]string, 0, len(p.Variants))
		for v := range p.Variants {
			variants = append(variants, v)
		}
		sort.Strings(variants)
		for _, v := range variants {
			q := p.Variants[v]
			if s.Observe(id+"/"+v, q) {
				out = append(out, LowStock{ProductID: id, Variant: v, Name: p.Name, Quantity: q})
			}
		}
	}
	return out
}
