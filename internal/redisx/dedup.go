package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers processed event ids for TTLDedup.
type Dedup struct {
	rdb     *redis.Client
	service string
}

func NewDedup(rdb *redis.Client, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service}
}

func (d *Dedup) key(eventID string) string { return fmt.Sprintf(KeyDedup, d.service, eventID) }

func (d *Dedup) Seen(ctx context.Context, eventID string) (bool, error) {
	return Exists(ctx, d.rdb, d.key(eventID))
}

// Mark keeps the first mark's TTL when an event is redelivered.
func (d *Dedup) Mark(ctx context.Context, eventID string) error {
	_, err := Claim(ctx, d.rdb, d.key(eventID), TTLDedup)
	return err
}
