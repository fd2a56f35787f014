package alerts

import "sync"

// Seen remembers which (kind, id) events this session already announced.
type Seen struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewSeen() *Seen { return &Seen{keys: map[string]struct{}{}} }

// First records (kind, id) and reports whether it was new.
func (s *Seen) First(kind, id string) bool {
	k := kind + "\x00" + id
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[k]; ok {
		return false
	}
	s.keys[k] = struct{}{}
	return true
}

func (s *Seen) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
