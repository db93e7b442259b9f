package market

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"fairmarket/core/types"
)

const (
	EventTypePurchaseRequested = "market.purchase.requested"
	EventTypePurchaseAborted   = "market.purchase.aborted"
	EventTypePurchaseRejected  = "market.purchase.rejected"
	EventTypePurchaseAccepted  = "market.purchase.accepted"
	EventTypePurchaseDelivered = "market.purchase.delivered"
	EventTypePurchaseCompleted = "market.purchase.completed"
	EventTypePurchaseDisputed  = "market.purchase.disputed"
	EventTypeDisputeForfeited  = "market.dispute.forfeited"
	EventTypeDisputeCountered  = "market.dispute.countered"
	EventTypeDisputeSettled    = "market.dispute.settled"
	EventTypePurchaseTimedOut  = "market.purchase.timeout"
	EventTypeListingUpdated    = "market.listing.updated"
)

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// NewRequestedEvent returns the canonical payload for a newly requested
// purchase.
func NewRequestedEvent(p *Purchase) *types.Event {
	return newPurchaseEvent(EventTypePurchaseRequested, p, nil)
}

// NewAbortedEvent returns the payload emitted when the buyer aborts a
// purchase before acceptance.
func NewAbortedEvent(p *Purchase) *types.Event {
	return newPurchaseEvent(EventTypePurchaseAborted, p, nil)
}

// NewRejectedEvent returns the payload emitted when the seller rejects a
// requested purchase.
func NewRejectedEvent(p *Purchase) *types.Event {
	return newPurchaseEvent(EventTypePurchaseRejected, p, nil)
}

// NewAcceptedEvent returns the payload emitted when the seller accepts a
// requested purchase.
func NewAcceptedEvent(p *Purchase) *types.Event {
	return newPurchaseEvent(EventTypePurchaseAccepted, p, nil)
}

// NewDeliveredEvent returns the payload emitted when the seller asserts
// delivery.
func NewDeliveredEvent(p *Purchase) *types.Event {
	return newPurchaseEvent(EventTypePurchaseDelivered, p, nil)
}

// NewCompletedEvent returns the payload emitted when a purchase completes and
// the seller is paid.
func NewCompletedEvent(p *Purchase, amount *big.Int) *types.Event {
	return newPurchaseEvent(EventTypePurchaseCompleted, p, map[string]string{
		"paid": formatAmount(amount),
	})
}

// NewDisputedEvent returns the payload emitted when the buyer opens a dispute
// and deposits the dispute stake.
func NewDisputedEvent(p *Purchase) *types.Event {
	return newPurchaseEvent(EventTypePurchaseDisputed, p, map[string]string{
		"commitment": hex.EncodeToString(p.Commitment[:]),
	})
}

// NewForfeitedEvent returns the payload emitted when the seller forfeits a
// dispute and the buyer is refunded both stakes.
func NewForfeitedEvent(p *Purchase, refunded *big.Int) *types.Event {
	return newPurchaseEvent(EventTypeDisputeForfeited, p, map[string]string{
		"refunded": formatAmount(refunded),
	})
}

// NewCounteredEvent returns the payload emitted when the seller counters a
// dispute with a clear bit and a matching stake.
func NewCounteredEvent(p *Purchase) *types.Event {
	return newPurchaseEvent(EventTypeDisputeCountered, p, map[string]string{
		"sellerBit": strconv.FormatBool(p.SellerBit),
	})
}

// NewSettledEvent returns the payload emitted when a countered dispute is
// settled by the coin flip. The winner receives the full held balance.
func NewSettledEvent(p *Purchase, winner [20]byte, sellerWins bool, amount *big.Int) *types.Event {
	return newPurchaseEvent(EventTypeDisputeSettled, p, map[string]string{
		"winner":     hex.EncodeToString(winner[:]),
		"sellerWins": strconv.FormatBool(sellerWins),
		"sellerBit":  strconv.FormatBool(p.SellerBit),
		"buyerBit":   strconv.FormatBool(p.BuyerBit),
		"paid":       formatAmount(amount),
	})
}

// NewTimedOutEvent returns the payload emitted when a stalled purchase is
// ended by a timeout call.
func NewTimedOutEvent(p *Purchase, recipient [20]byte, amount *big.Int) *types.Event {
	return newPurchaseEvent(EventTypePurchaseTimedOut, p, map[string]string{
		"recipient": hex.EncodeToString(recipient[:]),
		"paid":      formatAmount(amount),
	})
}

// NewListingUpdatedEvent returns the payload emitted when the seller creates
// or overwrites a catalog entry.
func NewListingUpdatedEvent(item uint64, listing *Item) *types.Event {
	attrs := map[string]string{
		"item": strconv.FormatUint(item, 10),
	}
	if listing != nil {
		attrs["value"] = formatAmount(listing.Value)
		attrs["description"] = listing.Description
	}
	return &types.Event{Type: EventTypeListingUpdated, Attributes: attrs}
}

func newPurchaseEvent(eventType string, p *Purchase, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if p != nil {
		attrs["id"] = hex.EncodeToString(p.ID[:])
		attrs["buyer"] = hex.EncodeToString(p.Buyer[:])
		attrs["item"] = strconv.FormatUint(p.Item, 10)
		attrs["value"] = formatAmount(p.Value)
		attrs["held"] = formatAmount(p.Held)
		attrs["state"] = p.State.String()
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
