package state

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"fairmarket/core/types"
	"fairmarket/market"
	"fairmarket/storage"
)

var (
	purchasePrefix = []byte("market/purchase/")
	listingPrefix  = []byte("market/listing/")
	accountPrefix  = []byte("account/")
	allocKey       = []byte("genesis/alloc-applied")
)

// Manager persists engine state in a key-value database. Records are stored
// as JSON under typed key prefixes. It implements the market engine's state
// backend interface.
type Manager struct {
	db    storage.Database
	vault [20]byte
}

// NewManager wraps the database and derives the vault address that pools
// escrowed funds. The vault is an address no key controls.
func NewManager(db storage.Database) *Manager {
	var vault [20]byte
	digest := ethcrypto.Keccak256([]byte("fairmarket/vault"))
	copy(vault[:], digest[12:])
	return &Manager{db: db, vault: vault}
}

// VaultAddress returns the address holding escrowed purchase funds.
func (m *Manager) VaultAddress() [20]byte { return m.vault }

func purchaseKey(id [32]byte) []byte {
	return append(append([]byte(nil), purchasePrefix...), []byte(hex.EncodeToString(id[:]))...)
}

func listingKey(item uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], item)
	return append(append([]byte(nil), listingPrefix...), buf[:]...)
}

func accountKey(addr []byte) []byte {
	return append(append([]byte(nil), accountPrefix...), []byte(hex.EncodeToString(addr))...)
}

// PurchasePut stores a sanitized copy of the purchase record.
func (m *Manager) PurchasePut(p *market.Purchase) error {
	sanitized, err := market.SanitizePurchase(p)
	if err != nil {
		return err
	}
	data, err := json.Marshal(sanitized)
	if err != nil {
		return err
	}
	return m.db.Put(purchaseKey(sanitized.ID), data)
}

// PurchaseGet loads the purchase record for the identifier.
func (m *Manager) PurchaseGet(id [32]byte) (*market.Purchase, bool) {
	data, err := m.db.Get(purchaseKey(id))
	if err != nil {
		return nil, false
	}
	var p market.Purchase
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false
	}
	return &p, true
}

// ListingPut stores a catalog entry.
func (m *Manager) ListingPut(item uint64, listing *market.Item) error {
	if listing == nil {
		return fmt.Errorf("state: nil listing")
	}
	data, err := json.Marshal(listing)
	if err != nil {
		return err
	}
	return m.db.Put(listingKey(item), data)
}

// ListingGet loads the catalog entry for the item identifier.
func (m *Manager) ListingGet(item uint64) (*market.Item, bool) {
	data, err := m.db.Get(listingKey(item))
	if err != nil {
		return nil, false
	}
	var listing market.Item
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, false
	}
	return &listing, true
}

// GetAccount loads the account for the address, returning an empty account
// when none is stored.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	data, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return types.NewAccount(), nil
	}
	if err != nil {
		return nil, err
	}
	var acc types.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, err
	}
	return types.EnsureAccount(&acc), nil
}

// PutAccount stores the account for the address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	account = types.EnsureAccount(account)
	data, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), data)
}

// ApplyGenesisAlloc credits the provided balances exactly once per database.
// Subsequent calls are no-ops, so a restarted node does not re-mint.
func (m *Manager) ApplyGenesisAlloc(alloc map[[20]byte]*big.Int) error {
	done, err := m.db.Has(allocKey)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	for addr, amount := range alloc {
		if amount == nil || amount.Sign() <= 0 {
			continue
		}
		acc, err := m.GetAccount(addr[:])
		if err != nil {
			return err
		}
		acc.Balance = new(big.Int).Add(acc.Balance, amount)
		if err := m.PutAccount(addr[:], acc); err != nil {
			return err
		}
	}
	return m.db.Put(allocKey, []byte{1})
}
