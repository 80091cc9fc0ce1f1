package escrow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridepool/carpool/internal/models"
	"github.com/ridepool/carpool/internal/storage"
	"github.com/ridepool/carpool/internal/wallet"
)

type fixture struct {
	store  *storage.Store
	wallet *wallet.Ledger
	escrow *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := storage.NewStore()
	w := wallet.New(s)
	f := &fixture{store: s, wallet: w, escrow: New(s, w)}
	f.update(t, func(tx *storage.Tx) error { return w.Credit(tx, "payer", 1000) })
	return f
}

func (f *fixture) update(t *testing.T, fn func(tx *storage.Tx) error) []models.Event {
	t.Helper()
	events, err := f.store.Update(context.Background(), fn)
	require.NoError(t, err)
	return events
}

func (f *fixture) try(fn func(tx *storage.Tx) error) error {
	_, err := f.store.Update(context.Background(), fn)
	return err
}

func TestEscrowHoldsFunds(t *testing.T) {
	f := newFixture(t)
	events := f.update(t, func(tx *storage.Tx) error { return f.escrow.Escrow(tx, 0, "payer", 300, 3) })

	e, ok := f.escrow.Entry(0, "payer")
	require.True(t, ok)
	assert.Equal(t, uint64(300), e.Amount)
	assert.Equal(t, uint32(3), e.Seats)
	assert.False(t, e.Settled())
	assert.Equal(t, uint64(700), f.wallet.Balance("payer"))
	assert.Equal(t, uint64(300), f.wallet.Balance(Account))
	require.Len(t, events, 1)
	assert.Equal(t, models.EventEscrowHeld, events[0].Type)
}

func TestEscrowRejectsZeroPayment(t *testing.T) {
	f := newFixture(t)
	err := f.try(func(tx *storage.Tx) error { return f.escrow.Escrow(tx, 0, "payer", 0, 1) })
	require.ErrorIs(t, err, models.ErrZeroPayment)
}

func TestEscrowRejectsUnfundedPayer(t *testing.T) {
	f := newFixture(t)
	err := f.try(func(tx *storage.Tx) error { return f.escrow.Escrow(tx, 0, "broke", 10, 1) })
	require.ErrorIs(t, err, models.ErrInsufficientFunds)
	_, ok := f.escrow.Entry(0, "broke")
	assert.False(t, ok)
}

func TestReleasePaysPayeeOnce(t *testing.T) {
	f := newFixture(t)
	f.update(t, func(tx *storage.Tx) error { return f.escrow.Escrow(tx, 0, "payer", 300, 3) })
	f.update(t, func(tx *storage.Tx) error { return f.escrow.Release(tx, 0, "payer", "driver") })

	assert.Equal(t, uint64(300), f.wallet.Balance("driver"))
	assert.Zero(t, f.wallet.Balance(Account))
	e, _ := f.escrow.Entry(0, "payer")
	assert.True(t, e.Released)
	assert.Equal(t, models.Address("driver"), e.Payee)

	err := f.try(func(tx *storage.Tx) error { return f.escrow.Release(tx, 0, "payer", "driver") })
	require.ErrorIs(t, err, models.ErrAlreadyProcessed)
	err = f.try(func(tx *storage.Tx) error { return f.escrow.Refund(tx, 0, "payer") })
	require.ErrorIs(t, err, models.ErrAlreadyProcessed)
	assert.Equal(t, uint64(300), f.wallet.Balance("driver"))
}

func TestRefundReturnsFundsToPayer(t *testing.T) {
	f := newFixture(t)
	f.update(t, func(tx *storage.Tx) error { return f.escrow.Escrow(tx, 0, "payer", 300, 3) })
	f.update(t, func(tx *storage.Tx) error { return f.escrow.Refund(tx, 0, "payer") })

	assert.Equal(t, uint64(1000), f.wallet.Balance("payer"))
	e, _ := f.escrow.Entry(0, "payer")
	assert.True(t, e.Refunded)
	assert.False(t, e.Released)
}

func TestSettleUnknownEntry(t *testing.T) {
	f := newFixture(t)
	err := f.try(func(tx *storage.Tx) error { return f.escrow.Refund(tx, 9, "payer") })
	require.ErrorIs(t, err, models.ErrEscrowNotFound)
}

func TestEscrowOverwritesPendingEntry(t *testing.T) {
	f := newFixture(t)
	f.update(t, func(tx *storage.Tx) error { return f.escrow.Escrow(tx, 0, "payer", 300, 3) })
	f.update(t, func(tx *storage.Tx) error { return f.escrow.Escrow(tx, 0, "payer", 100, 1) })

	e, _ := f.escrow.Entry(0, "payer")
	assert.Equal(t, uint64(100), e.Amount)
	assert.Equal(t, uint32(1), e.Seats)
	assert.False(t, e.Settled())
	assert.Equal(t, uint64(400), f.wallet.Balance(Account))
}

func TestEscrowNeverReopensSettledEntry(t *testing.T) {
	for _, settle := range []struct {
		name string
		fn   func(l *Ledger, tx *storage.Tx) error
	}{
		{"refunded", func(l *Ledger, tx *storage.Tx) error { return l.Refund(tx, 0, "payer") }},
		{"released", func(l *Ledger, tx *storage.Tx) error { return l.Release(tx, 0, "payer", "driver") }},
	} {
		t.Run(settle.name, func(t *testing.T) {
			f := newFixture(t)
			f.update(t, func(tx *storage.Tx) error { return f.escrow.Escrow(tx, 0, "payer", 300, 3) })
			f.update(t, func(tx *storage.Tx) error { return settle.fn(f.escrow, tx) })
			before, _ := f.escrow.Entry(0, "payer")
			balance := f.wallet.Balance("payer")

			err := f.try(func(tx *storage.Tx) error { return f.escrow.Escrow(tx, 0, "payer", 100, 1) })
			require.ErrorIs(t, err, models.ErrAlreadyProcessed)

			after, _ := f.escrow.Entry(0, "payer")
			assert.Equal(t, before, after)
			assert.True(t, after.Settled())
			assert.Equal(t, balance, f.wallet.Balance("payer"))
		})
	}
}
