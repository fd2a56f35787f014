package alerts

import "sync"

// ScreenLanding is the pre-login screen; nothing is surfaced there.
const ScreenLanding = "landing"

// Gate tracks the screen the operator is on.
type Gate struct {
	mu     sync.RWMutex
	screen string
}

func NewGate(screen string) *Gate { return &Gate{screen: screen} }

func (g *Gate) Set(screen string) {
	g.mu.Lock()
	g.screen = screen
	g.mu.Unlock()
}

func (g *Gate) Screen() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.screen
}

// Surfacing reports whether notifications may be shown right now.
func (g *Gate) Surfacing() bool { return g.Screen() != ScreenLanding }
