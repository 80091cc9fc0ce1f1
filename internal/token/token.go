// Package token implements the CarpoolToken reward ledger. Amounts are whole
// tokens; there are no fractional units.
package token

import (
	"math"

	"github.com/ridepool/carpool/internal/models"
	"github.com/ridepool/carpool/internal/storage"
)

const (
	Name   = "CarpoolToken"
	Symbol = "CPT"

	InitialSupply        uint64 = 1_000_000
	DefaultRewardPerRide uint64 = 10
)

// Account holds the initial supply.
const Account models.Address = "carpool:token"

// Grant records whether a system address may issue ride rewards.
type Grant struct {
	System     models.Address `json:"system"`
	Authorized bool           `json:"authorized"`
}

type Ledger struct {
	owner         models.Address
	rewardPerRide uint64

	balances *storage.Table[models.Address, models.TokenBalance]
	rewards  *storage.Table[models.Address, models.DriverReward]
	grants   *storage.Table[models.Address, Grant]
}

func New(store *storage.Store, owner models.Address, rewardPerRide uint64) *Ledger {
	if rewardPerRide == 0 {
		rewardPerRide = DefaultRewardPerRide
	}
	l := &Ledger{
		owner:         owner,
		rewardPerRide: rewardPerRide,
		balances:      storage.NewTable("token_balances", func(b models.TokenBalance) models.Address { return b.Holder }),
		rewards:       storage.NewTable("driver_rewards", func(r models.DriverReward) models.Address { return r.Driver }),
		grants:        storage.NewTable("token_grants", func(g Grant) models.Address { return g.System }),
	}
	store.Register(l.balances)
	store.Register(l.rewards)
	store.Register(l.grants)
	return l
}

func (l *Ledger) Owner() models.Address { return l.owner }
func (l *Ledger) RewardPerRide() uint64 { return l.rewardPerRide }

// Bootstrap mints the initial supply on first start. It is a no-op once any
// balance exists, which covers state restored from the database.
func (l *Ledger) Bootstrap(tx *storage.Tx) error {
	if l.balances.Len() > 0 {
		return nil
	}
	return l.credit(tx, Account, InitialSupply)
}

func (l *Ledger) Authorize(tx *storage.Tx, caller, system models.Address, authorized bool) error {
	if caller != l.owner {
		return models.ErrNotOwner
	}
	if system.IsZero() {
		return models.ErrInvalidAddress
	}
	l.grants.Put(tx, Grant{System: system, Authorized: authorized})
	return nil
}

func (l *Ledger) IsAuthorized(system models.Address) bool {
	g, _ := l.grants.Get(system)
	return g.Authorized
}

func (l *Ledger) canIssue(caller models.Address) bool {
	return caller == l.owner || l.IsAuthorized(caller)
}

// Mint is open to the owner and authorized systems.
func (l *Ledger) Mint(tx *storage.Tx, caller, to models.Address, amount uint64) error {
	if !l.canIssue(caller) {
		return models.ErrNotOwner
	}
	if amount == 0 {
		return models.ErrInvalidAmount
	}
	if err := l.credit(tx, to, amount); err != nil {
		return err
	}
	tx.Emit(models.Event{Type: models.EventTokensMinted, Actor: caller, Subject: to, Amount: amount})
	return nil
}

func (l *Ledger) Burn(tx *storage.Tx, caller models.Address, amount uint64) error {
	if amount == 0 {
		return models.ErrInvalidAmount
	}
	if err := l.debit(tx, caller, amount); err != nil {
		return err
	}
	tx.Emit(models.Event{Type: models.EventTokensBurned, Actor: caller, Amount: amount})
	return nil
}

func (l *Ledger) Transfer(tx *storage.Tx, caller, to models.Address, amount uint64) error {
	if amount == 0 {
		return models.ErrInvalidAmount
	}
	if to.IsZero() {
		return models.ErrInvalidAddress
	}
	if err := l.debit(tx, caller, amount); err != nil {
		return err
	}
	if err := l.credit(tx, to, amount); err != nil {
		return err
	}
	tx.Emit(models.Event{Type: models.EventTokensTransfer, Actor: caller, Subject: to, Amount: amount})
	return nil
}

// RewardDriver mints the per-ride reward to driver. The owner and any
// authorized system may call it.
func (l *Ledger) RewardDriver(tx *storage.Tx, caller, driver models.Address, rideID uint64) (uint64, error) {
	if !l.canIssue(caller) {
		return 0, models.ErrNotOwner
	}
	if err := l.credit(tx, driver, l.rewardPerRide); err != nil {
		return 0, err
	}
	r, ok := l.rewards.Get(driver)
	if !ok {
		r.Driver = driver
	}
	if r.Total > math.MaxUint64-l.rewardPerRide {
		return 0, models.ErrAmountOverflow
	}
	r.Total += l.rewardPerRide
	l.rewards.Put(tx, r)
	tx.Emit(models.Event{Type: models.EventRewardIssued, RideID: rideID, Actor: caller, Subject: driver, Amount: l.rewardPerRide})
	return l.rewardPerRide, nil
}

func (l *Ledger) BalanceOf(holder models.Address) uint64 {
	b, _ := l.balances.Get(holder)
	return b.Balance
}

func (l *Ledger) DriverRewards(driver models.Address) uint64 {
	r, _ := l.rewards.Get(driver)
	return r.Total
}

func (l *Ledger) TotalSupply() uint64 {
	var total uint64
	l.balances.Range(func(_ models.Address, b models.TokenBalance) bool {
		total += b.Balance
		return true
	})
	return total
}

func (l *Ledger) credit(tx *storage.Tx, to models.Address, amount uint64) error {
	if to.IsZero() {
		return models.ErrInvalidAddress
	}
	cur := l.BalanceOf(to)
	if amount > math.MaxUint64-cur || amount > math.MaxUint64-l.TotalSupply() {
		return models.ErrAmountOverflow
	}
	l.balances.Put(tx, models.TokenBalance{Holder: to, Balance: cur + amount})
	return nil
}

func (l *Ledger) debit(tx *storage.Tx, from models.Address, amount uint64) error {
	cur := l.BalanceOf(from)
	if amount > cur {
		return models.ErrInsufficientBalance
	}
	l.balances.Put(tx, models.TokenBalance{Holder: from, Balance: cur - amount})
	return nil
}
