package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Memory is an in-process Store and Conditional. Every connected session
// sharing one Memory behaves like a separate client of the same live store.
type Memory struct {
	mu     sync.Mutex
	root   map[string]any
	subs   map[int]*subscription
	nextID int
	writes int
}

type subscription struct {
	path []string

	// value subscriptions
	snaps  *mailbox[Snapshot]
	last   string
	exists bool

	// child-added subscriptions
	children *mailbox[Child]
	opts     AddedOptions
	known    map[string]bool
}

var (
	_ Store       = (*Memory)(nil)
	_ Conditional = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{root: map[string]any{}, subs: map[int]*subscription{}}
}

// Seed replaces the whole tree with the JSON document doc. Subscribers are
// notified as for any other write.
func (m *Memory) Seed(doc string) error {
	var v map[string]any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return fmt.Errorf("feed: seed: %w", err)
	}
	if v == nil {
		v = map[string]any{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = v
	m.notify([][]string{nil})
	return nil
}

// Writes counts applied Update, UpdateIf and Remove calls. Seed is not counted.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) Subscribe(ctx context.Context, path string) (<-chan Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscription{path: Split(path), snaps: newMailbox[Snapshot]()}
	out := make(chan Snapshot)

	m.mu.Lock()
	id := m.register(sub)
	snap := m.snapshot(sub.path)
	sub.last, sub.exists = string(snap.Value), snap.Exists
	sub.snaps.push(snap)
	m.mu.Unlock()

	go sub.snaps.run(ctx, out)
	go m.dropOnDone(ctx, id)
	return out, nil
}

func (m *Memory) SubscribeAdded(ctx context.Context, path string, opts AddedOptions) (<-chan Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscription{
		path:     Split(path),
		children: newMailbox[Child](),
		opts:     opts,
		known:    map[string]bool{},
	}
	out := make(chan Child)

	m.mu.Lock()
	id := m.register(sub)
	m.emitAdded(sub)
	m.mu.Unlock()

	go sub.children.run(ctx, out)
	go m.dropOnDone(ctx, id)
	return out, nil
}

func (m *Memory) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(Split(path)), nil
}

func (m *Memory) Update(ctx context.Context, path string, fields map[string]any) error {
	_, err := m.apply(ctx, path, nil, fields)
	return err
}

func (m *Memory) UpdateIf(ctx context.Context, path string, g Guard, fields map[string]any) (bool, error) {
	return m.apply(ctx, path, &g, fields)
}

func (m *Memory) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	parts := Split(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(parts) == 0 {
		m.root = map[string]any{}
	} else {
		deleteAt(m.root, parts)
	}
	m.writes++
	m.notify([][]string{parts})
	return nil
}

func (m *Memory) apply(ctx context.Context, path string, g *Guard, fields map[string]any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	base := Split(path)

	type op struct {
		parts []string
		inc   *IncrementOp
		value any
		del   bool
	}
	ops := make([]op, 0, len(fields))
	for k, v := range fields {
		parts := append(append([]string{}, base...), Split(k)...)
		if len(parts) == 0 {
			return false, fmt.Errorf("feed: update %q: empty key", path)
		}
		switch t := v.(type) {
		case nil:
			ops = append(ops, op{parts: parts, del: true})
		case IncrementOp:
			ops = append(ops, op{parts: parts, inc: &t})
		default:
			nv, err := normalize(v)
			if err != nil {
				return false, fmt.Errorf("feed: update %q: key %q: %w", path, k, err)
			}
			ops = append(ops, op{parts: parts, value: nv})
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if g != nil {
		cur, ok := getAt(m.root, append(append([]string{}, base...), Split(g.Path)...))
		if !g.Holds(cur, ok) {
			return false, nil
		}
	}

	changed := make([][]string, 0, len(ops))
	for _, o := range ops {
		switch {
		case o.del:
			deleteAt(m.root, o.parts)
		case o.inc != nil:
			cur, _ := getAt(m.root, o.parts)
			setAt(m.root, o.parts, toNumber(cur)+o.inc.By)
		default:
			setAt(m.root, o.parts, o.value)
		}
		changed = append(changed, o.parts)
	}
	m.writes++
	m.notify(changed)
	return true, nil
}

func (m *Memory) register(sub *subscription) int {
	m.nextID++
	m.subs[m.nextID] = sub
	return m.nextID
}

func (m *Memory) dropOnDone(ctx context.Context, id int) {
	<-ctx.Done()
	m.mu.Lock()
	delete(m.subs, id)
	m.mu.Unlock()
}

// notify must be called with m.mu held.
func (m *Memory) notify(changed [][]string) {
	for _, sub := range m.subs {
		if !touches(sub.path, changed) {
			continue
		}
		if sub.snaps != nil {
			snap := m.snapshot(sub.path)
			if string(snap.Value) == sub.last && snap.Exists == sub.exists {
				continue
			}
			sub.last, sub.exists = string(snap.Value), snap.Exists
			sub.snaps.push(snap)
			continue
		}
		m.emitAdded(sub)
	}
}

func (m *Memory) snapshot(parts []string) Snapshot {
	v, ok := getAt(m.root, parts)
	if !ok {
		return Snapshot{Path: strings.Join(parts, "/"), Value: json.RawMessage("null")}
	}
	b, err := json.Marshal(v)
	if err != nil {
		// stored values are normalized; this cannot fail
		b = []byte("null")
	}
	return Snapshot{Path: strings.Join(parts, "/"), Value: b, Exists: true}
}

// emitAdded must be called with m.mu held.
func (m *Memory) emitAdded(sub *subscription) {
	node, _ := getAt(m.root, sub.path)
	children, _ := node.(map[string]any)
	for _, c := range DiffAdded(sub.known, children, sub.opts) {
		sub.children.push(c)
	}
}

func touches(path []string, changed [][]string) bool {
	for _, c := range changed {
		if Overlaps(path, c) {
			return true
		}
	}
	return false
}

func getAt(root map[string]any, parts []string) (any, bool) {
	var cur any = root
	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

func setAt(root map[string]any, parts []string, v any) {
	if v == nil {
		deleteAt(root, parts)
		return
	}
	cur := root
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

// deleteAt removes the leaf and prunes parents left empty.
func deleteAt(root map[string]any, parts []string) {
	if len(parts) == 0 {
		return
	}
	parent := root
	if len(parts) > 1 {
		node, _ := getAt(root, parts[:len(parts)-1])
		var ok bool
		if parent, ok = node.(map[string]any); !ok {
			return
		}
	}
	delete(parent, parts[len(parts)-1])
	if len(parent) == 0 && len(parts) > 1 {
		deleteAt(root, parts[:len(parts)-1])
	}
}

func toNumber(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err == nil {
			return f
		}
	}
	return 0
}
