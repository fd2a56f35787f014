package alerts

import (
	"fmt"
	"sync"

	"github.com/ariefcatur/go-delivery-console/internal/apperr"
)

// Inbox holds the session's notifications, newest first.
type Inbox struct {
	mu    sync.Mutex
	items []Notification
}

func NewInbox() *Inbox { return &Inbox{} }

func (b *Inbox) Add(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append([]Notification{n}, b.items...)
}

func (b *Inbox) List() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Notification(nil), b.items...)
}

func (b *Inbox) Unread() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, it := range b.items {
		if !it.Read {
			n++
		}
	}
	return n
}

func (b *Inbox) MarkRead(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].ID == id {
			b.items[i].Read = true
			return nil
		}
	}
	return fmt.Errorf("notification %s: %w", id, apperr.ErrNotFound)
}

func (b *Inbox) MarkAllRead() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		b.items[i].Read = true
	}
}
