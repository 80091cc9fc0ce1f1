package escrow

import (
	"github.com/ridepool/carpool/internal/models"
	"github.com/ridepool/carpool/internal/storage"
)

// Account is the wallet that holds funds while they sit in escrow.
const Account models.Address = "carpool:escrow"

// Funds moves value between wallets inside a transaction.
type Funds interface {
	Transfer(tx *storage.Tx, from, to models.Address, amount uint64) error
}

// Ledger holds one entry per (ride, payer). An entry is terminal once it is
// released or refunded.
type Ledger struct {
	entries *storage.Table[models.EscrowKey, models.EscrowEntry]
	funds   Funds
}

func New(store *storage.Store, funds Funds) *Ledger {
	l := &Ledger{
		entries: storage.NewTable("escrow_entries", models.EscrowEntry.Key),
		funds:   funds,
	}
	store.Register(l.entries)
	return l
}

func (l *Ledger) Entry(rideID uint64, payer models.Address) (models.EscrowEntry, bool) {
	return l.entries.Get(models.EscrowKey{RideID: rideID, Payer: payer})
}

// Escrow pulls amount from payer into the escrow account. A second call for
// the same key replaces a pending entry instead of adding to it. A settled
// entry is never reopened.
func (l *Ledger) Escrow(tx *storage.Tx, rideID uint64, payer models.Address, amount uint64, seats uint32) error {
	if amount == 0 {
		return models.ErrZeroPayment
	}
	if prev, ok := l.Entry(rideID, payer); ok && prev.Settled() {
		return models.ErrAlreadyProcessed
	}
	if err := l.funds.Transfer(tx, payer, Account, amount); err != nil {
		return err
	}
	l.entries.Put(tx, models.EscrowEntry{RideID: rideID, Payer: payer, Amount: amount, Seats: seats})
	tx.Emit(models.Event{Type: models.EventEscrowHeld, RideID: rideID, Actor: payer, Amount: amount, Seats: seats})
	return nil
}

func (l *Ledger) Release(tx *storage.Tx, rideID uint64, payer, payee models.Address) error {
	e, err := l.pending(rideID, payer)
	if err != nil {
		return err
	}
	if err := l.funds.Transfer(tx, Account, payee, e.Amount); err != nil {
		return err
	}
	e.Released = true
	e.Payee = payee
	l.entries.Put(tx, e)
	tx.Emit(models.Event{Type: models.EventEscrowReleased, RideID: rideID, Actor: payer, Subject: payee, Amount: e.Amount, Seats: e.Seats})
	return nil
}

func (l *Ledger) Refund(tx *storage.Tx, rideID uint64, payer models.Address) error {
	e, err := l.pending(rideID, payer)
	if err != nil {
		return err
	}
	if err := l.funds.Transfer(tx, Account, payer, e.Amount); err != nil {
		return err
	}
	e.Refunded = true
	e.Payee = payer
	l.entries.Put(tx, e)
	tx.Emit(models.Event{Type: models.EventEscrowRefunded, RideID: rideID, Actor: payer, Subject: payer, Amount: e.Amount, Seats: e.Seats})
	return nil
}

func (l *Ledger) pending(rideID uint64, payer models.Address) (models.EscrowEntry, error) {
	e, ok := l.Entry(rideID, payer)
	if !ok {
		return e, models.ErrEscrowNotFound
	}
	if e.Settled() {
		return e, models.ErrAlreadyProcessed
	}
	return e, nil
}
