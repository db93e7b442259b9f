package market

import (
	"fmt"
	"math/big"
)

// PurchaseState represents the lifecycle states of a purchase managed by the
// market engine. StateNull is the default for identifiers that were never
// requested; an uninitialised record is indistinguishable from one in
// StateNull.
type PurchaseState uint8

const (
	StateNull PurchaseState = iota
	StateRequested
	StateAccepted
	StateRejected
	StateDelivered
	StateCompleted
	StateDispute
	StateCounter
	StateFailed
)

// Valid reports whether the state value is within the supported range.
func (s PurchaseState) Valid() bool {
	return s <= StateFailed
}

// Terminal reports whether the state admits no further transitions. Funds held
// for a purchase are fully disbursed on entry into a terminal state.
func (s PurchaseState) Terminal() bool {
	switch s {
	case StateCompleted, StateRejected, StateFailed:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase label for the state.
func (s PurchaseState) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateRequested:
		return "requested"
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	case StateDelivered:
		return "delivered"
	case StateCompleted:
		return "completed"
	case StateDispute:
		return "dispute"
	case StateCounter:
		return "counter"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// milliScale converts a listing price quoted in thousandths of a coin into
// native base units (one coin is 10^18 base units). Applied once, at listing
// write time; purchase values never re-read the catalog.
var milliScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil)

// ScaleMilliPrice converts a price in thousandths of a coin into native units.
func ScaleMilliPrice(priceMilli uint64) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(priceMilli), milliScale)
}

// Item is a seller-managed catalog entry. Entries are created or overwritten
// by the seller only and never deleted; purchase creation copies the value so
// later price edits cannot retroactively change an open purchase.
type Item struct {
	Value       *big.Int `json:"value"`
	Description string   `json:"description"`
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	clone := *i
	if i.Value != nil {
		clone.Value = new(big.Int).Set(i.Value)
	} else {
		clone.Value = big.NewInt(0)
	}
	return &clone
}

// Purchase captures the full protocol state of a single two-party purchase.
// The identifier is the keccak256 hash of the request timestamp and the buyer
// address. Value is the price locked at request time. Held tracks the exact
// native balance escrowed for this purchase so settlement can transfer a
// per-purchase amount rather than a shared pool; it is decremented to zero
// when a terminal state is reached.
type Purchase struct {
	ID         [32]byte      `json:"id"`
	Item       uint64        `json:"item"`
	Buyer      [20]byte      `json:"buyer"`
	Value      *big.Int      `json:"value"`
	Held       *big.Int      `json:"held"`
	LastAction int64         `json:"lastAction"`
	CreatedAt  int64         `json:"createdAt"`
	Commitment [32]byte      `json:"commitment"`
	SellerBit  bool          `json:"sellerBit"`
	BuyerBit   bool          `json:"buyerBit"`
	Notes      string        `json:"notes"`
	State      PurchaseState `json:"state"`
}

// Clone returns a deep copy of the purchase so callers can safely mutate the
// copy without affecting the stored instance.
func (p *Purchase) Clone() *Purchase {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Value != nil {
		clone.Value = new(big.Int).Set(p.Value)
	} else {
		clone.Value = big.NewInt(0)
	}
	if p.Held != nil {
		clone.Held = new(big.Int).Set(p.Held)
	} else {
		clone.Held = big.NewInt(0)
	}
	return &clone
}

// HasCommitment reports whether the buyer has submitted a dispute commitment.
// The zero digest doubles as the "no commitment" marker.
func (p *Purchase) HasCommitment() bool {
	return p != nil && p.Commitment != ([32]byte{})
}

// SanitizePurchase validates the supplied purchase and returns a cloned
// instance with non-nil amount fields. The original value is not mutated.
func SanitizePurchase(p *Purchase) (*Purchase, error) {
	if p == nil {
		return nil, fmt.Errorf("market: nil purchase")
	}
	clone := p.Clone()
	if !clone.State.Valid() {
		return nil, fmt.Errorf("market: invalid purchase state: %d", clone.State)
	}
	if clone.Value.Sign() < 0 {
		return nil, fmt.Errorf("market: purchase value must be non-negative")
	}
	if clone.Held.Sign() < 0 {
		return nil, fmt.Errorf("market: held balance must be non-negative")
	}
	if clone.State.Terminal() && clone.Held.Sign() != 0 {
		return nil, fmt.Errorf("market: terminal purchase retains held balance")
	}
	return clone, nil
}
