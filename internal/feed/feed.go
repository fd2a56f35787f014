// Package feed is the client side of the shared live data store: a tree of
// JSON values addressed by slash-separated paths that pushes a fresh value to
// every subscriber whenever something under its path changes.
package feed

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Snapshot is the full value at Path at one point in time.
type Snapshot struct {
	Path   string
	Value  json.RawMessage // "null" when the node does not exist
	Exists bool
}

// Child is one child appended under a SubscribeAdded path.
type Child struct {
	Key   string
	Value json.RawMessage
}

// AddedOptions narrows a SubscribeAdded subscription.
// OrderBy names a child field to order and filter on; empty or "$key"
// orders by child key. Only children whose ordering value is >= StartAt
// are delivered.
type AddedOptions struct {
	OrderBy string
	StartAt string
}

// Store is the change feed contract every engine is written against.
//
// Update merges fields into the node at path in one atomic step. Keys may be
// slash-separated relative paths, so a single Update at the root can touch
// several subtrees. A nil value deletes the key; an IncrementOp adds to the
// current numeric value, treating an absent value as zero.
type Store interface {
	Subscribe(ctx context.Context, path string) (<-chan Snapshot, error)
	SubscribeAdded(ctx context.Context, path string, opts AddedOptions) (<-chan Child, error)
	Get(ctx context.Context, path string) (Snapshot, error)
	Update(ctx context.Context, path string, fields map[string]any) error
	Remove(ctx context.Context, path string) error
}

// Conditional is implemented by stores that can apply an Update only while a
// guard holds, evaluated atomically with the write.
type Conditional interface {
	UpdateIf(ctx context.Context, path string, g Guard, fields map[string]any) (bool, error)
}

// IncrementOp is an atomic numeric add. Build it with Increment.
type IncrementOp struct {
	By float64
}

// Increment returns an update value that adds n to the stored number.
func Increment(n float64) IncrementOp { return IncrementOp{By: n} }

// GuardOp selects how a Guard inspects its path.
type GuardOp string

const (
	GuardTruthy GuardOp = "truthy"
	GuardFalsy  GuardOp = "falsy"
	GuardEquals GuardOp = "equals"
)

// Guard is a precondition on the value at Path, relative to the update path.
type Guard struct {
	Path  string
	Op    GuardOp
	Value any // compared when Op is GuardEquals; scalars only
}

func WhenTruthy(path string) Guard { return Guard{Path: path, Op: GuardTruthy} }

func WhenFalsy(path string) Guard { return Guard{Path: path, Op: GuardFalsy} }

func WhenEquals(path string, v any) Guard { return Guard{Path: path, Op: GuardEquals, Value: v} }

// Holds evaluates the guard against an already decoded value.
func (g Guard) Holds(current any, exists bool) bool {
	switch g.Op {
	case GuardTruthy:
		return exists && Truthy(current)
	case GuardFalsy:
		return !exists || !Truthy(current)
	case GuardEquals:
		if !exists {
			return g.Value == nil
		}
		want, err := normalize(g.Value)
		if err != nil {
			return false
		}
		return reflect.DeepEqual(want, current)
	}
	return false
}

// Truthy mirrors the loose booleans held in the store: nil, false, 0, "",
// "false" and "0" are unset, everything else is set.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.TrimSpace(t) {
		case "", "false", "0":
			return false
		}
	}
	return true
}

// Split turns "orders/o1/status" into its segments, dropping empty ones.
func Split(path string) []string {
	raw := strings.Split(path, "/")
	out := raw[:0]
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Overlaps reports whether a change at one path is visible from the other,
// that is whether either is a prefix of the other.
func Overlaps(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Join builds a path from segments.
func Join(parts ...string) string {
	all := make([]string, 0, len(parts))
	for _, p := range parts {
		all = append(all, Split(p)...)
	}
	return strings.Join(all, "/")
}

// DiffAdded returns the children of node not present in known that pass
// opts, sorted by their ordering value. known is replaced by the current key
// set, so a removed child that comes back is reported again.
func DiffAdded(known map[string]bool, children map[string]any, opts AddedOptions) []Child {
	type added struct {
		key   string
		order string
		value any
	}
	var fresh []added
	seen := make(map[string]bool, len(children))
	for k, v := range children {
		seen[k] = true
		if known[k] {
			continue
		}
		ord := orderValue(k, v, opts.OrderBy)
		if opts.StartAt != "" && ord < opts.StartAt {
			continue
		}
		fresh = append(fresh, added{key: k, order: ord, value: v})
	}
	for k := range known {
		delete(known, k)
	}
	for k := range seen {
		known[k] = true
	}

	sort.Slice(fresh, func(i, j int) bool {
		if fresh[i].order != fresh[j].order {
			return fresh[i].order < fresh[j].order
		}
		return fresh[i].key < fresh[j].key
	})
	out := make([]Child, 0, len(fresh))
	for _, a := range fresh {
		b, err := json.Marshal(a.value)
		if err != nil {
			continue
		}
		out = append(out, Child{Key: a.key, Value: b})
	}
	return out
}

func orderValue(key string, v any, orderBy string) string {
	if orderBy == "" || orderBy == "$key" {
		return key
	}
	obj, _ := v.(map[string]any)
	switch t := obj[orderBy].(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// normalize round-trips v through JSON so stored values only ever hold
// map[string]any, []any, float64, string, bool or nil.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
