package inventory

import "sync"

// Claims is the per-session set of orders with a reconciliation write in
// flight. A claimed order is skipped until its write settles.
type Claims struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewClaims() *Claims { return &Claims{held: map[string]bool{}} }

// TryClaim claims orderID. The returned release must be called exactly once
// on every path; calling it again is harmless.
func (c *Claims) TryClaim(orderID string) (release func(), ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held[orderID] {
		return nil, false
	}
	c.held[orderID] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.held, orderID)
			c.mu.Unlock()
		})
	}, true
}

func (c *Claims) Held(orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held[orderID]
}

func (c *Claims) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.held)
}
