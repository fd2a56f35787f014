package redisx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-delivery-console/internal/feed"
	"github.com/ariefcatur/go-delivery-console/internal/logx"
)

// FeedStore is a feed.Store on Redis. Each top-level collection is a hash
// of JSON documents; writes go through applyScript and announce the touched
// paths on a pub/sub channel that subscribers use to re-read.
type FeedStore struct {
	rdb *redis.Client
	ns  string
	log logx.Logger
}

var (
	_ feed.Store       = (*FeedStore)(nil)
	_ feed.Conditional = (*FeedStore)(nil)
)

func NewFeedStore(rdb *redis.Client, namespace string, log logx.Logger) *FeedStore {
	if log == nil {
		log = logx.Nop()
	}
	return &FeedStore{rdb: rdb, ns: namespace, log: log.With(logx.String("component", "redis_feed"))}
}

func (s *FeedStore) collectionKey(name string) string {
	return fmt.Sprintf(KeyFeedCollection, s.ns, name)
}

func (s *FeedStore) collectionsKey() string { return fmt.Sprintf(KeyFeedCollections, s.ns) }

func (s *FeedStore) channel() string { return fmt.Sprintf(ChannelFeedChanges, s.ns) }

func (s *FeedStore) Get(ctx context.Context, path string) (feed.Snapshot, error) {
	return s.read(ctx, feed.Split(path))
}

func (s *FeedStore) Subscribe(ctx context.Context, path string) (<-chan feed.Snapshot, error) {
	parts := feed.Split(path)
	ps, err := s.listen(ctx)
	if err != nil {
		return nil, err
	}
	first, err := s.read(ctx, parts)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan feed.Snapshot)
	go func() {
		defer close(out)
		defer ps.Close()

		last := first
		if !send(ctx, out, first) {
			return
		}
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if !touched(parts, msg.Payload) {
					continue
				}
				snap, err := s.read(ctx, parts)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					s.log.Warn("re-read after change failed", logx.String("path", path), logx.Err(err))
					continue
				}
				if snap.Exists == last.Exists && bytes.Equal(snap.Value, last.Value) {
					continue
				}
				last = snap
				if !send(ctx, out, snap) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *FeedStore) SubscribeAdded(ctx context.Context, path string, opts feed.AddedOptions) (<-chan feed.Child, error) {
	parts := feed.Split(path)
	if len(parts) != 1 {
		return nil, fmt.Errorf("redisx: child subscription needs a collection path, got %q", path)
	}
	ps, err := s.listen(ctx)
	if err != nil {
		return nil, err
	}
	known := map[string]bool{}
	children, err := s.readCollection(ctx, parts[0])
	if err != nil {
		_ = ps.Close()
		return nil, err
	}
	first := feed.DiffAdded(known, children, opts)

	out := make(chan feed.Child)
	go func() {
		defer close(out)
		defer ps.Close()

		for _, c := range first {
			if !send(ctx, out, c) {
				return
			}
		}
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if !touched(parts, msg.Payload) {
					continue
				}
				children, err := s.readCollection(ctx, parts[0])
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					s.log.Warn("re-read after change failed", logx.String("path", path), logx.Err(err))
					continue
				}
				for _, c := range feed.DiffAdded(known, children, opts) {
					if !send(ctx, out, c) {
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func (s *FeedStore) Update(ctx context.Context, path string, fields map[string]any) error {
	_, err := s.apply(ctx, path, nil, fields)
	return err
}

func (s *FeedStore) UpdateIf(ctx context.Context, path string, g feed.Guard, fields map[string]any) (bool, error) {
	return s.apply(ctx, path, &g, fields)
}

func (s *FeedStore) Remove(ctx context.Context, path string) error {
	parts := feed.Split(path)
	if len(parts) >= 2 {
		_, err := s.apply(ctx, "", nil, map[string]any{strings.Join(parts, "/"): nil})
		return err
	}

	var names []string
	if len(parts) == 1 {
		names = []string{parts[0]}
	} else {
		var err error
		if names, err = s.rdb.SMembers(ctx, s.collectionsKey()).Result(); err != nil {
			return fmt.Errorf("redisx: remove %q: %w", path, err)
		}
	}
	note, _ := json.Marshal([]string{strings.Join(parts, "/")})
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, n := range names {
			p.Del(ctx, s.collectionKey(n))
			p.SRem(ctx, s.collectionsKey(), n)
		}
		p.Publish(ctx, s.channel(), string(note))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisx: remove %q: %w", path, err)
	}
	return nil
}

type scriptOp struct {
	Key   string   `json:"key"`
	Coll  string   `json:"coll"`
	ID    string   `json:"id"`
	Path  []string `json:"path"`
	Kind  string   `json:"kind"` // set | inc | del
	Value any      `json:"value"`
}

type scriptGuard struct {
	Key   string   `json:"key"`
	Coll  string   `json:"coll"`
	ID    string   `json:"id"`
	Path  []string `json:"path"`
	Op    string   `json:"op"`
	Value any      `json:"value"`
}

type scriptRequest struct {
	Guard *scriptGuard `json:"guard,omitempty"`
	Ops   []scriptOp   `json:"ops"`
}

func (s *FeedStore) apply(ctx context.Context, path string, g *feed.Guard, fields map[string]any) (bool, error) {
	if len(fields) == 0 {
		return true, nil
	}
	base := feed.Split(path)

	req := scriptRequest{Ops: make([]scriptOp, 0, len(fields))}
	hashes := map[string]bool{}
	for k, v := range fields {
		parts := append(append([]string{}, base...), feed.Split(k)...)
		if len(parts) < 2 {
			return false, fmt.Errorf("redisx: update %q: key %q does not address a document", path, k)
		}
		op := scriptOp{
			Key:  s.collectionKey(parts[0]),
			Coll: parts[0],
			ID:   parts[1],
			Path: append([]string{}, parts[2:]...),
		}
		switch t := v.(type) {
		case nil:
			op.Kind = "del"
		case feed.IncrementOp:
			op.Kind, op.Value = "inc", t.By
		default:
			op.Kind, op.Value = "set", v
		}
		hashes[op.Key] = true
		req.Ops = append(req.Ops, op)
	}
	if g != nil {
		parts := append(append([]string{}, base...), feed.Split(g.Path)...)
		if len(parts) < 2 {
			return false, fmt.Errorf("redisx: guard %q does not address a document", g.Path)
		}
		req.Guard = &scriptGuard{
			Key:   s.collectionKey(parts[0]),
			Coll:  parts[0],
			ID:    parts[1],
			Path:  append([]string{}, parts[2:]...),
			Op:    string(g.Op),
			Value: g.Value,
		}
		hashes[req.Guard.Key] = true
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("redisx: update %q: %w", path, err)
	}
	keys := []string{s.collectionsKey()}
	for k := range hashes {
		keys = append(keys, k)
	}
	sort.Strings(keys[1:])

	n, err := applyScript.Run(ctx, s.rdb, keys, string(payload), s.channel()).Int()
	if err != nil {
		return false, fmt.Errorf("redisx: update %q: %w", path, err)
	}
	return n == 1, nil
}

func (s *FeedStore) listen(ctx context.Context) (*redis.PubSub, error) {
	ps := s.rdb.Subscribe(ctx, s.channel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redisx: subscribe %s: %w", s.channel(), err)
	}
	return ps, nil
}

func (s *FeedStore) read(ctx context.Context, parts []string) (feed.Snapshot, error) {
	path := strings.Join(parts, "/")
	var value any

	switch len(parts) {
	case 0:
		names, err := s.rdb.SMembers(ctx, s.collectionsKey()).Result()
		if err != nil {
			return feed.Snapshot{}, fmt.Errorf("redisx: read root: %w", err)
		}
		root := map[string]any{}
		for _, n := range names {
			coll, err := s.readCollection(ctx, n)
			if err != nil {
				return feed.Snapshot{}, err
			}
			if len(coll) > 0 {
				root[n] = coll
			}
		}
		if len(root) > 0 {
			value = root
		}
	case 1:
		coll, err := s.readCollection(ctx, parts[0])
		if err != nil {
			return feed.Snapshot{}, err
		}
		if len(coll) > 0 {
			value = coll
		}
	default:
		raw, err := s.rdb.HGet(ctx, s.collectionKey(parts[0]), parts[1]).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return feed.Snapshot{}, fmt.Errorf("redisx: read %q: %w", path, err)
		}
		var doc any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return feed.Snapshot{}, fmt.Errorf("redisx: read %q: %w", path, err)
		}
		value = lookup(doc, parts[2:])
	}

	if value == nil {
		return feed.Snapshot{Path: path, Value: json.RawMessage("null")}, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return feed.Snapshot{}, fmt.Errorf("redisx: read %q: %w", path, err)
	}
	return feed.Snapshot{Path: path, Value: b, Exists: true}, nil
}

func (s *FeedStore) readCollection(ctx context.Context, name string) (map[string]any, error) {
	all, err := s.rdb.HGetAll(ctx, s.collectionKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisx: read %q: %w", name, err)
	}
	out := make(map[string]any, len(all))
	for id, raw := range all {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			s.log.Warn("skipping undecodable document", logx.String("collection", name), logx.String("id", id), logx.Err(err))
			continue
		}
		out[id] = v
	}
	return out, nil
}

func lookup(v any, parts []string) any {
	for _, p := range parts {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = obj[p]
	}
	return v
}

// touched reports whether a change note concerns path. Undecodable notes
// count as touching everything.
func touched(path []string, payload string) bool {
	var paths []string
	if err := json.Unmarshal([]byte(payload), &paths); err != nil {
		return true
	}
	for _, p := range paths {
		if feed.Overlaps(path, feed.Split(p)) {
			return true
		}
	}
	return false
}

func send[T any](ctx context.Context, out chan<- T, v T) bool {
	select {
	case out <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
