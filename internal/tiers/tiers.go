// Package tiers defines the prize tier table used to map provably-fair
// rolls onto payout multipliers.
//
// A table is an ordered set of (name, cumulative upper bound, multiplier)
// tuples partitioning the roll space [0,100) exactly: bounds are strictly
// increasing and the last bound is 100. Multipliers are basis points
// (10000 = 1x) so payout math stays integral end to end.
package tiers

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTable is returned when the cumulative bounds do not
	// partition [0,100) exactly.
	ErrInvalidTable = errors.New("tiers: bounds must partition [0,100) with no gap or overlap")

	// ErrRollOutOfRange is returned for rolls outside [0,100).
	ErrRollOutOfRange = errors.New("tiers: roll outside [0,100)")
)

// RollSpace is the exclusive upper bound of the roll range.
const RollSpace = 100

// Tier is one prize band. A roll r lands in the first tier whose
// UpperBound exceeds r.
type Tier struct {
	Name          string `json:"name"`
	UpperBound    int    `json:"upper_bound"` // exclusive, cumulative
	MultiplierBps uint32 `json:"multiplier_bps"`
}

// Table is an ordered tier table. Construct with NewTable; a zero Table
// is not valid.
type Table []Tier

// NewTable validates and returns a tier table. The bounds must be
// strictly increasing, the first positive, and the last exactly 100.
func NewTable(ts []Tier) (Table, error) {
	if len(ts) == 0 {
		return nil, ErrInvalidTable
	}
	prev := 0
	for i, t := range ts {
		if t.UpperBound <= prev {
			return nil, fmt.Errorf("%w: tier %q bound %d after %d", ErrInvalidTable, t.Name, t.UpperBound, prev)
		}
		if t.Name == "" {
			return nil, fmt.Errorf("%w: tier %d has no name", ErrInvalidTable, i)
		}
		prev = t.UpperBound
	}
	if prev != RollSpace {
		return nil, fmt.Errorf("%w: last bound is %d, want %d", ErrInvalidTable, prev, RollSpace)
	}
	out := make(Table, len(ts))
	copy(out, ts)
	return out, nil
}

// DefaultTable returns the production gacha table:
// Basic 75% at 0.4x, Advanced 18% at 2x, Elite 6% at 4x, Legendary 1% at 7x.
func DefaultTable() Table {
	t, err := NewTable([]Tier{
		{Name: "Basic", UpperBound: 75, MultiplierBps: 4000},
		{Name: "Advanced", UpperBound: 93, MultiplierBps: 20000},
		{Name: "Elite", UpperBound: 99, MultiplierBps: 40000},
		{Name: "Legendary", UpperBound: 100, MultiplierBps: 70000},
	})
	if err != nil {
		panic(err) // static table, validated at build time by tests
	}
	return t
}

// Lookup maps a roll in [0,100) to its tier.
func (tb Table) Lookup(roll int) (Tier, error) {
	if roll < 0 || roll >= RollSpace {
		return Tier{}, fmt.Errorf("%w: %d", ErrRollOutOfRange, roll)
	}
	for _, t := range tb {
		if roll < t.UpperBound {
			return t, nil
		}
	}
	// Unreachable for a table built via NewTable.
	return Tier{}, ErrInvalidTable
}

// Floor returns the lowest tier (the first band).
func (tb Table) Floor() Tier {
	return tb[0]
}

// AboveFloor returns the tiers better than the floor, in table order.
// The pity rule draws its forced tier from this set.
func (tb Table) AboveFloor() []Tier {
	return tb[1:]
}

// Payout computes the settled amount for one sample: stake times the
// tier multiplier with truncating division. This is the only place the
// engine divides money.
func Payout(stakePerSample uint64, multiplierBps uint32) uint64 {
	return stakePerSample * uint64(multiplierBps) / 10000
}
