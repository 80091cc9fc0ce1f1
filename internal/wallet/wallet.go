// Package wallet holds native currency balances and moves value between
// accounts. Every movement happens inside a storage transaction, so a
// transfer commits or rolls back together with the operation that caused it.
package wallet

import (
	"math"

	"github.com/ridepool/carpool/internal/models"
	"github.com/ridepool/carpool/internal/storage"
)

type Ledger struct {
	balances *storage.Table[models.Address, models.WalletBalance]
}

func New(store *storage.Store) *Ledger {
	l := &Ledger{
		balances: storage.NewTable("wallet_balances", func(b models.WalletBalance) models.Address { return b.Owner }),
	}
	store.Register(l.balances)
	return l
}

func (l *Ledger) Balance(owner models.Address) uint64 {
	b, _ := l.balances.Get(owner)
	return b.Balance
}

func (l *Ledger) Credit(tx *storage.Tx, to models.Address, amount uint64) error {
	if to.IsZero() {
		return models.ErrInvalidAddress
	}
	cur := l.Balance(to)
	if amount > math.MaxUint64-cur {
		return models.ErrAmountOverflow
	}
	l.balances.Put(tx, models.WalletBalance{Owner: to, Balance: cur + amount})
	return nil
}

func (l *Ledger) Debit(tx *storage.Tx, from models.Address, amount uint64) error {
	cur := l.Balance(from)
	if amount > cur {
		return models.ErrInsufficientFunds
	}
	l.balances.Put(tx, models.WalletBalance{Owner: from, Balance: cur - amount})
	return nil
}

func (l *Ledger) Transfer(tx *storage.Tx, from, to models.Address, amount uint64) error {
	if err := l.Debit(tx, from, amount); err != nil {
		return err
	}
	return l.Credit(tx, to, amount)
}
