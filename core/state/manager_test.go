package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"fairmarket/market"
	"fairmarket/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func TestPurchaseRoundTrip(t *testing.T) {
	m := newTestManager(t)

	p := &market.Purchase{
		Item:       3,
		Value:      big.NewInt(100),
		Held:       big.NewInt(200),
		LastAction: 1_700_000_000,
		CreatedAt:  1_700_000_000,
		Notes:      "leave at the door",
		State:      market.StateDispute,
	}
	p.ID[0] = 0x01
	p.Buyer[0] = 0x02
	p.Commitment[0] = 0x03

	require.NoError(t, m.PurchasePut(p))
	got, ok := m.PurchaseGet(p.ID)
	require.True(t, ok)
	require.Equal(t, p.Item, got.Item)
	require.Equal(t, p.Buyer, got.Buyer)
	require.Zero(t, p.Value.Cmp(got.Value))
	require.Zero(t, p.Held.Cmp(got.Held))
	require.Equal(t, p.Commitment, got.Commitment)
	require.Equal(t, p.Notes, got.Notes)
	require.Equal(t, market.StateDispute, got.State)
}

func TestPurchasePutRejectsInvalid(t *testing.T) {
	m := newTestManager(t)
	require.Error(t, m.PurchasePut(nil))

	bad := &market.Purchase{Value: big.NewInt(-1), Held: big.NewInt(0)}
	require.Error(t, m.PurchasePut(bad))
}

func TestPurchaseGetMissing(t *testing.T) {
	m := newTestManager(t)
	var id [32]byte
	id[0] = 0xFF
	_, ok := m.PurchaseGet(id)
	require.False(t, ok)
}

func TestListingRoundTrip(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.ListingPut(9, &market.Item{Value: big.NewInt(500), Description: "teapot"}))

	got, ok := m.ListingGet(9)
	require.True(t, ok)
	require.Equal(t, "teapot", got.Description)
	require.Zero(t, got.Value.Cmp(big.NewInt(500)))

	_, ok = m.ListingGet(10)
	require.False(t, ok)
}

func TestAccountDefaultsToEmpty(t *testing.T) {
	m := newTestManager(t)
	addr := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10, 0x11, 0x12, 0x13, 0x14}

	acc, err := m.GetAccount(addr)
	require.NoError(t, err)
	require.Zero(t, acc.Balance.Sign())

	acc.Balance = big.NewInt(777)
	require.NoError(t, m.PutAccount(addr, acc))

	got, err := m.GetAccount(addr)
	require.NoError(t, err)
	require.Zero(t, got.Balance.Cmp(big.NewInt(777)))
}

func TestApplyGenesisAllocOnce(t *testing.T) {
	m := newTestManager(t)
	var addr [20]byte
	addr[0] = 0xAB
	alloc := map[[20]byte]*big.Int{addr: big.NewInt(1_000)}

	require.NoError(t, m.ApplyGenesisAlloc(alloc))
	acc, err := m.GetAccount(addr[:])
	require.NoError(t, err)
	require.Zero(t, acc.Balance.Cmp(big.NewInt(1_000)))

	// A second application is a no-op; restarts must not re-mint.
	require.NoError(t, m.ApplyGenesisAlloc(alloc))
	acc, err = m.GetAccount(addr[:])
	require.NoError(t, err)
	require.Zero(t, acc.Balance.Cmp(big.NewInt(1_000)))
}

func TestVaultAddressStable(t *testing.T) {
	a := NewManager(storage.NewMemDB())
	b := NewManager(storage.NewMemDB())
	require.Equal(t, a.VaultAddress(), b.VaultAddress())
	require.NotEqual(t, [20]byte{}, a.VaultAddress())
}
