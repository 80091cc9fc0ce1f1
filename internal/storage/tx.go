package storage

import (
	"context"

	"github.com/ridepool/carpool/internal/models"
)

// Change is one row write produced by a transaction.
type Change struct {
	Table   string
	Key     string
	Value   any
	Deleted bool
}

// Tx is the unit of work handed to Store.Update. Every table write made
// through it can be undone until the store commits.
type Tx struct {
	ctx     context.Context
	undo    []func()
	changes []Change
	events  []models.Event
}

func newTx(ctx context.Context) *Tx {
	return &Tx{ctx: ctx}
}

func (tx *Tx) Context() context.Context { return tx.ctx }

// Emit queues an event. Queued events are discarded on rollback.
func (tx *Tx) Emit(e models.Event) {
	tx.events = append(tx.events, e)
}

func (tx *Tx) record(undo func(), c Change) {
	tx.undo = append(tx.undo, undo)
	tx.changes = append(tx.changes, c)
}

func (tx *Tx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.changes = nil
	tx.events = nil
}

// compact keeps only the last write per row, in first-write order.
func (tx *Tx) compact() []Change {
	type rowID struct{ table, key string }
	last := make(map[rowID]int, len(tx.changes))
	order := make([]rowID, 0, len(tx.changes))
	for i, c := range tx.changes {
		id := rowID{c.Table, c.Key}
		if _, seen := last[id]; !seen {
			order = append(order, id)
		}
		last[id] = i
	}
	out := make([]Change, 0, len(order))
	for _, id := range order {
		out = append(out, tx.changes[last[id]])
	}
	return out
}
