package orders

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// LineItem is one ordered entry resolved to a stock key.
type LineItem struct {
	Key       string // item1, item2, … or list index
	ProductID string
	Variant   string
	Name      string
	Quantity  int
}

// Items accepts either an object of named entries or a list.
type Items []LineItem

type itemDoc struct {
	ProductID string `json:"productId"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Variant   string `json:"variant"`
	Size      string `json:"size"`
	Quantity  number `json:"quantity"`
	Qty       number `json:"qty"`
}

type itemEntry struct {
	key string
	raw json.RawMessage
}

func (it *Items) UnmarshalJSON(b []byte) error {
	v := bytes.TrimSpace(b)
	if len(v) == 0 || string(v) == "null" {
		*it = nil
		return nil
	}

	var entries []itemEntry
	switch v[0] {
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return naturalLess(keys[i], keys[j]) })
		for _, k := range keys {
			entries = append(entries, itemEntry{key: k, raw: m[k]})
		}
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(v, &list); err != nil {
			return err
		}
		for i, raw := range list {
			entries = append(entries, itemEntry{key: strconv.Itoa(i), raw: raw})
		}
	default:
		return fmt.Errorf("items: unexpected json %q", string(v[:1]))
	}

	out := make(Items, 0, len(entries))
	for _, e := range entries {
		li, ok, err := decodeLine(e.key, e.raw)
		if err != nil {
			return fmt.Errorf("items.%s: %w", e.key, err)
		}
		if ok {
			out = append(out, li)
		}
	}
	*it = out
	return nil
}

func decodeLine(key string, raw json.RawMessage) (LineItem, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return LineItem{}, false, nil
	}
	if raw[0] == '"' {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return LineItem{}, false, err
		}
		id = strings.TrimSpace(id)
		if id == "" {
			return LineItem{}, false, nil
		}
		return LineItem{Key: key, ProductID: id, Quantity: 1}, true, nil
	}
	var doc itemDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return LineItem{}, false, err
	}
	li := LineItem{
		Key:       key,
		ProductID: strings.TrimSpace(firstNonEmpty(doc.ProductID, doc.ID)),
		Variant:   strings.TrimSpace(firstNonEmpty(doc.Variant, doc.Size)),
		Name:      doc.Name,
		Quantity:  1,
	}
	switch {
	case doc.Quantity > 0:
		li.Quantity = int(doc.Quantity)
	case doc.Qty > 0:
		li.Quantity = int(doc.Qty)
	}
	return li, true, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// naturalLess orders item2 before item10.
func naturalLess(a, b string) bool {
	pa, na := splitNumericSuffix(a)
	pb, nb := splitNumericSuffix(b)
	if pa != pb {
		return pa < pb
	}
	if na != nb {
		return na < nb
	}
	return a < b
}

func splitNumericSuffix(s string) (string, int) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return s, -1
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return s, -1
	}
	return s[:i], n
}
