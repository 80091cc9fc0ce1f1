package wallet

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridepool/carpool/internal/models"
	"github.com/ridepool/carpool/internal/storage"
)

func TestTransferMovesFunds(t *testing.T) {
	s := storage.NewStore()
	l := New(s)
	ctx := context.Background()

	_, err := s.Update(ctx, func(tx *storage.Tx) error {
		return l.Credit(tx, "alice", 100)
	})
	require.NoError(t, err)

	_, err = s.Update(ctx, func(tx *storage.Tx) error {
		return l.Transfer(tx, "alice", "bob", 40)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(60), l.Balance("alice"))
	assert.Equal(t, uint64(40), l.Balance("bob"))
}

func TestDebitRejectsOverdraft(t *testing.T) {
	s := storage.NewStore()
	l := New(s)
	_, err := s.Update(context.Background(), func(tx *storage.Tx) error {
		if err := l.Credit(tx, "alice", 10); err != nil {
			return err
		}
		return l.Transfer(tx, "alice", "bob", 11)
	})
	require.ErrorIs(t, err, models.ErrInsufficientFunds)
	assert.Zero(t, l.Balance("alice"))
	assert.Zero(t, l.Balance("bob"))
}

func TestCreditGuardsOverflowAndEmptyAddress(t *testing.T) {
	s := storage.NewStore()
	l := New(s)
	_, err := s.Update(context.Background(), func(tx *storage.Tx) error {
		if err := l.Credit(tx, "alice", math.MaxUint64); err != nil {
			return err
		}
		return l.Credit(tx, "alice", 1)
	})
	require.ErrorIs(t, err, models.ErrAmountOverflow)

	_, err = s.Update(context.Background(), func(tx *storage.Tx) error {
		return l.Credit(tx, "", 1)
	})
	require.ErrorIs(t, err, models.ErrInvalidAddress)
}
