package storage

import (
	"encoding/json"
	"fmt"
)

// Table is a keyed map of rows. Values are stored by value, so callers
// mutate a copy and write it back with Put.
type Table[K comparable, V any] struct {
	name  string
	rows  map[K]V
	keyOf func(V) K
}

func NewTable[K comparable, V any](name string, keyOf func(V) K) *Table[K, V] {
	return &Table[K, V]{name: name, rows: make(map[K]V), keyOf: keyOf}
}

func (t *Table[K, V]) Name() string { return t.name }

func (t *Table[K, V]) Get(k K) (V, bool) {
	v, ok := t.rows[k]
	return v, ok
}

func (t *Table[K, V]) Len() int { return len(t.rows) }

// Range visits rows in no particular order until fn returns false.
func (t *Table[K, V]) Range(fn func(K, V) bool) {
	for k, v := range t.rows {
		if !fn(k, v) {
			return
		}
	}
}

func (t *Table[K, V]) Put(tx *Tx, v V) {
	k := t.keyOf(v)
	old, had := t.rows[k]
	t.rows[k] = v
	tx.record(func() {
		if had {
			t.rows[k] = old
		} else {
			delete(t.rows, k)
		}
	}, Change{Table: t.name, Key: rowKey(k), Value: v})
}

func (t *Table[K, V]) Delete(tx *Tx, k K) {
	old, had := t.rows[k]
	if !had {
		return
	}
	delete(t.rows, k)
	tx.record(func() { t.rows[k] = old }, Change{Table: t.name, Key: rowKey(k), Deleted: true})
}

func (t *Table[K, V]) load(body []byte) error {
	var v V
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("decode %s row: %w", t.name, err)
	}
	t.rows[t.keyOf(v)] = v
	return nil
}

func rowKey(k any) string { return fmt.Sprintf("%v", k) }
