package market

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"fairmarket/core/events"
	"fairmarket/core/types"
)

type engineState interface {
	PurchasePut(*Purchase) error
	PurchaseGet(id [32]byte) (*Purchase, bool)
	ListingPut(item uint64, listing *Item) error
	ListingGet(item uint64) (*Item, bool)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	VaultAddress() [20]byte
}

// Engine executes the purchase state machine for a single seller over a
// pluggable state backend. The seller identity is an explicit constructor
// parameter so multiple stores can coexist on one node, each with its own
// engine. Every public operation takes the engine lock, validates the caller
// and the current state, and either applies the full effect or leaves state
// and balances untouched.
type Engine struct {
	mu        sync.Mutex
	state     engineState
	emitter   events.Emitter
	seller    [20]byte
	sellerKey []byte
	timeout   int64
	nowFn     func() int64
}

// NewEngine creates a market engine for the given seller with the supplied
// dispute timeout in seconds. Callers can override the emitter via SetEmitter.
func NewEngine(seller [20]byte, timeoutSeconds int64) *Engine {
	return &Engine{
		seller:  seller,
		timeout: timeoutSeconds,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetSellerKey publishes the seller's out-of-band public key bytes so buyers
// can fetch them through the read surface. The key is opaque to the engine.
func (e *Engine) SetSellerKey(key []byte) {
	e.sellerKey = append([]byte(nil), key...)
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Seller returns the store's seller address.
func (e *Engine) Seller() [20]byte { return e.seller }

// Timeout returns the configured timeout duration in seconds.
func (e *Engine) Timeout() int64 { return e.timeout }

// SellerKey returns the published seller public key bytes.
func (e *Engine) SellerKey() []byte {
	return append([]byte(nil), e.sellerKey...)
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// DerivePurchaseID computes the purchase identifier from the request
// timestamp and the buyer address. Two requests by the same buyer within the
// same second collide; RequestPurchase surfaces the collision as
// ErrPurchaseExists rather than overwriting the earlier record.
func DerivePurchaseID(timestamp int64, buyer [20]byte) [32]byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	return ethcrypto.Keccak256Hash(ts[:], buyer[:])
}

func (e *Engine) loadPurchase(id [32]byte) (*Purchase, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	purchase, ok := e.state.PurchaseGet(id)
	if !ok {
		return nil, ErrPurchaseNotFound
	}
	return purchase, nil
}

func (e *Engine) storePurchase(p *Purchase) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.PurchasePut(p)
}

// transferNative moves native units between two account balances. A zero
// amount is a no-op; a negative amount is rejected.
func (e *Engine) transferNative(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("market: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = types.EnsureAccount(fromAcc)
	toAcc = types.EnsureAccount(toAcc)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// disburse pays the full held balance of the purchase to the recipient and
// zeroes the held amount. Terminal transitions call this exactly once, so no
// value attributable to a purchase is ever stranded in the vault.
func (e *Engine) disburse(p *Purchase, recipient [20]byte) (*big.Int, error) {
	amount := new(big.Int).Set(p.Held)
	if err := e.transferNative(e.state.VaultAddress(), recipient, amount); err != nil {
		return nil, err
	}
	p.Held = big.NewInt(0)
	return amount, nil
}

// UpdateListing creates or overwrites a catalog entry. Only the seller may
// write listings. The price arrives in thousandths of a coin and is scaled to
// native units before storage; open purchases are unaffected because they
// copied the price at request time.
func (e *Engine) UpdateListing(caller [20]byte, item uint64, description string, priceMilli uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	if caller != e.seller {
		return fmt.Errorf("update listing: %w", ErrUnauthorized)
	}
	listing := &Item{
		Value:       ScaleMilliPrice(priceMilli),
		Description: description,
	}
	if err := e.state.ListingPut(item, listing); err != nil {
		return err
	}
	e.emit(NewListingUpdatedEvent(item, listing))
	return nil
}

// GetListing returns the catalog entry for the item identifier.
func (e *Engine) GetListing(item uint64) (*Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	listing, ok := e.state.ListingGet(item)
	if !ok {
		return nil, ErrListingNotFound
	}
	return listing.Clone(), nil
}

// GetPurchase returns the stored purchase record for the identifier.
func (e *Engine) GetPurchase(id [32]byte) (*Purchase, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	purchase, err := e.loadPurchase(id)
	if err != nil {
		return nil, err
	}
	return purchase.Clone(), nil
}

// GetBalance returns the native balance of the address.
func (e *Engine) GetBalance(addr [20]byte) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(types.EnsureAccount(acc).Balance), nil
}

// RequestPurchase opens a new purchase for a listed item. The attached amount
// must exactly equal the listing price; it is debited from the buyer and held
// by the vault. The price is copied onto the purchase so later listing edits
// cannot change it.
func (e *Engine) RequestPurchase(buyer [20]byte, item uint64, notes string, amount *big.Int) ([32]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return [32]byte{}, errNilState
	}
	listing, ok := e.state.ListingGet(item)
	if !ok {
		return [32]byte{}, fmt.Errorf("request purchase: %w", ErrListingNotFound)
	}
	if amount == nil || listing.Value == nil || amount.Cmp(listing.Value) != 0 {
		return [32]byte{}, fmt.Errorf("request purchase: %w", ErrValueMismatch)
	}
	now := e.now()
	id := DerivePurchaseID(now, buyer)
	if _, exists := e.state.PurchaseGet(id); exists {
		return [32]byte{}, fmt.Errorf("request purchase: %w", ErrPurchaseExists)
	}
	if err := e.transferNative(buyer, e.state.VaultAddress(), amount); err != nil {
		return [32]byte{}, err
	}
	purchase := &Purchase{
		ID:         id,
		Item:       item,
		Buyer:      buyer,
		Value:      new(big.Int).Set(listing.Value),
		Held:       new(big.Int).Set(amount),
		LastAction: now,
		CreatedAt:  now,
		Notes:      notes,
		State:      StateRequested,
	}
	if err := e.storePurchase(purchase); err != nil {
		return [32]byte{}, err
	}
	e.emit(NewRequestedEvent(purchase))
	return id, nil
}

// Abort lets the buyer withdraw a purchase the seller has not yet accepted.
// The full held value is refunded to the buyer.
func (e *Engine) Abort(id [32]byte, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.loadPurchase(id)
	if err != nil {
		return err
	}
	if caller != p.Buyer {
		return fmt.Errorf("abort: %w", ErrUnauthorized)
	}
	if p.State != StateRequested {
		return fmt.Errorf("abort: %w", ErrInvalidState)
	}
	if _, err := e.disburse(p, p.Buyer); err != nil {
		return err
	}
	p.State = StateFailed
	if err := e.storePurchase(p); err != nil {
		return err
	}
	e.emit(NewAbortedEvent(p))
	return nil
}

// RejectContract lets the seller decline a requested purchase, refunding the
// buyer.
func (e *Engine) RejectContract(id [32]byte, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.loadPurchase(id)
	if err != nil {
		return err
	}
	if caller != e.seller {
		return fmt.Errorf("reject contract: %w", ErrUnauthorized)
	}
	if p.State != StateRequested {
		return fmt.Errorf("reject contract: %w", ErrInvalidState)
	}
	if _, err := e.disburse(p, p.Buyer); err != nil {
		return err
	}
	p.State = StateRejected
	if err := e.storePurchase(p); err != nil {
		return err
	}
	e.emit(NewRejectedEvent(p))
	return nil
}

// AcceptContract lets the seller accept a requested purchase. The timeout
// anchor is reset so the buyer cannot immediately time the seller out.
func (e *Engine) AcceptContract(id [32]byte, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.loadPurchase(id)
	if err != nil {
		return err
	}
	if caller != e.seller {
		return fmt.Errorf("accept contract: %w", ErrUnauthorized)
	}
	if p.State != StateRequested {
		return fmt.Errorf("accept contract: %w", ErrInvalidState)
	}
	p.State = StateAccepted
	p.LastAction = e.now()
	if err := e.storePurchase(p); err != nil {
		return err
	}
	e.emit(NewAcceptedEvent(p))
	return nil
}

// ItemWasDelivered records the seller's assertion that the item was shipped.
// Delivery itself is an off-protocol event; the engine only tracks the claim.
func (e *Engine) ItemWasDelivered(id [32]byte, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.loadPurchase(id)
	if err != nil {
		return err
	}
	if caller != e.seller {
		return fmt.Errorf("item delivered: %w", ErrUnauthorized)
	}
	if p.State != StateAccepted {
		return fmt.Errorf("item delivered: %w", ErrInvalidState)
	}
	p.State = StateDelivered
	p.LastAction = e.now()
	if err := e.storePurchase(p); err != nil {
		return err
	}
	e.emit(NewDeliveredEvent(p))
	return nil
}

// ConfirmDelivery lets the buyer acknowledge receipt, paying the seller the
// held value and completing the purchase.
func (e *Engine) ConfirmDelivery(id [32]byte, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.loadPurchase(id)
	if err != nil {
		return err
	}
	if caller != p.Buyer {
		return fmt.Errorf("confirm delivery: %w", ErrUnauthorized)
	}
	if p.State != StateDelivered {
		return fmt.Errorf("confirm delivery: %w", ErrInvalidState)
	}
	paid, err := e.disburse(p, e.seller)
	if err != nil {
		return err
	}
	p.State = StateCompleted
	if err := e.storePurchase(p); err != nil {
		return err
	}
	e.emit(NewCompletedEvent(p, paid))
	return nil
}

// DisputeDelivery lets the buyer contest a claimed delivery. The buyer
// deposits an additional stake equal to the purchase value and submits a
// commitment to a secret bit; the commitment must be present before any
// revealed bit is trusted.
func (e *Engine) DisputeDelivery(id [32]byte, caller [20]byte, commitment [32]byte, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.loadPurchase(id)
	if err != nil {
		return err
	}
	if caller != p.Buyer {
		return fmt.Errorf("dispute delivery: %w", ErrUnauthorized)
	}
	if p.State != StateDelivered {
		return fmt.Errorf("dispute delivery: %w", ErrInvalidState)
	}
	if commitment == ([32]byte{}) {
		return fmt.Errorf("dispute delivery: %w", ErrNoCommitment)
	}
	if amount == nil || amount.Cmp(p.Value) != 0 {
		return fmt.Errorf("dispute delivery: %w", ErrValueMismatch)
	}
	if err := e.transferNative(p.Buyer, e.state.VaultAddress(), amount); err != nil {
		return err
	}
	p.Held = new(big.Int).Add(p.Held, amount)
	p.Commitment = commitment
	p.State = StateDispute
	p.LastAction = e.now()
	if err := e.storePurchase(p); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(p))
	return nil
}

// ForfeitDispute lets the seller concede a dispute, refunding the buyer the
// purchase value and the dispute stake.
func (e *Engine) ForfeitDispute(id [32]byte, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.loadPurchase(id)
	if err != nil {
		return err
	}
	if caller != e.seller {
		return fmt.Errorf("forfeit dispute: %w", ErrUnauthorized)
	}
	if p.State != StateDispute {
		return fmt.Errorf("forfeit dispute: %w", ErrInvalidState)
	}
	refunded, err := e.disburse(p, p.Buyer)
	if err != nil {
		return err
	}
	p.State = StateFailed
	if err := e.storePurchase(p); err != nil {
		return err
	}
	e.emit(NewForfeitedEvent(p, refunded))
	return nil
}

// CounterDispute lets the seller contest a dispute by matching the buyer's
// stake and supplying their coin-flip bit in the clear. The buyer's bit is
// still hidden behind the commitment, so neither party can bias the flip.
func (e *Engine) CounterDispute(id [32]byte, caller [20]byte, bit bool, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.loadPurchase(id)
	if err != nil {
		return err
	}
	if caller != e.seller {
		return fmt.Errorf("counter dispute: %w", ErrUnauthorized)
	}
	if p.State != StateDispute {
		return fmt.Errorf("counter dispute: %w", ErrInvalidState)
	}
	if amount == nil || amount.Cmp(p.Value) != 0 {
		return fmt.Errorf("counter dispute: %w", ErrValueMismatch)
	}
	if err := e.transferNative(e.seller, e.state.VaultAddress(), amount); err != nil {
		return err
	}
	p.Held = new(big.Int).Add(p.Held, amount)
	p.SellerBit = bit
	p.State = StateCounter
	p.LastAction = e.now()
	if err := e.storePurchase(p); err != nil {
		return err
	}
	e.emit(NewCounteredEvent(p))
	return nil
}

// OpenCommitment lets the buyer reveal the committed bit and settles the
// countered dispute by coin flip. The revealed (bit, nonce) pair must hash to
// the stored commitment for this exact purchase; otherwise the call fails with
// no settlement. Settlement compares the seller's clear bit against the bit
// revealed in this call: equal bits pay the buyer the full held balance,
// unequal bits pay the seller.
func (e *Engine) OpenCommitment(id [32]byte, caller [20]byte, bit bool, nonce [32]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.loadPurchase(id)
	if err != nil {
		return err
	}
	if caller != p.Buyer {
		return fmt.Errorf("open commitment: %w", ErrUnauthorized)
	}
	if p.State != StateCounter {
		return fmt.Errorf("open commitment: %w", ErrInvalidState)
	}
	if !p.HasCommitment() {
		return fmt.Errorf("open commitment: %w", ErrNoCommitment)
	}
	if !VerifyCommitment(p.Commitment, bit, p.ID, nonce) {
		return fmt.Errorf("open commitment: %w", ErrCommitmentMismatch)
	}
	p.BuyerBit = bit
	sellerWins := p.SellerBit != bit
	winner := p.Buyer
	if sellerWins {
		winner = e.seller
	}
	paid, err := e.disburse(p, winner)
	if err != nil {
		return err
	}
	p.State = StateFailed
	if err := e.storePurchase(p); err != nil {
		return err
	}
	e.emit(NewSettledEvent(p, winner, sellerWins, paid))
	return nil
}

// BuyerCallTimeout lets the buyer end a purchase stalled in a state where the
// seller is obliged to act next (Accepted or Dispute). The full held balance
// is refunded to the buyer. The elapsed time must strictly exceed the
// configured timeout.
func (e *Engine) BuyerCallTimeout(id [32]byte, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.loadPurchase(id)
	if err != nil {
		return err
	}
	if caller != p.Buyer {
		return fmt.Errorf("buyer timeout: %w", ErrUnauthorized)
	}
	if p.State != StateAccepted && p.State != StateDispute {
		return fmt.Errorf("buyer timeout: %w", ErrInvalidState)
	}
	if e.now()-p.LastAction <= e.timeout {
		return fmt.Errorf("buyer timeout: %w", ErrTimeoutNotElapsed)
	}
	paid, err := e.disburse(p, p.Buyer)
	if err != nil {
		return err
	}
	p.State = StateFailed
	if err := e.storePurchase(p); err != nil {
		return err
	}
	e.emit(NewTimedOutEvent(p, p.Buyer, paid))
	return nil
}

// SellerCallTimeout lets the seller end a purchase stalled in a state where
// the buyer is obliged to act next (Delivered or Counter). The full held
// balance is paid to the seller. The elapsed time must strictly exceed the
// configured timeout.
func (e *Engine) SellerCallTimeout(id [32]byte, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.loadPurchase(id)
	if err != nil {
		return err
	}
	if caller != e.seller {
		return fmt.Errorf("seller timeout: %w", ErrUnauthorized)
	}
	if p.State != StateDelivered && p.State != StateCounter {
		return fmt.Errorf("seller timeout: %w", ErrInvalidState)
	}
	if e.now()-p.LastAction <= e.timeout {
		return fmt.Errorf("seller timeout: %w", ErrTimeoutNotElapsed)
	}
	paid, err := e.disburse(p, e.seller)
	if err != nil {
		return err
	}
	p.State = StateCompleted
	if err := e.storePurchase(p); err != nil {
		return err
	}
	e.emit(NewTimedOutEvent(p, e.seller, paid))
	return nil
}
