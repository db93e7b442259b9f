package market

import (
	"math/big"
	"testing"
)

func TestPurchaseStateLabels(t *testing.T) {
	cases := map[PurchaseState]string{
		StateNull:      "null",
		StateRequested: "requested",
		StateAccepted:  "accepted",
		StateRejected:  "rejected",
		StateDelivered: "delivered",
		StateCompleted: "completed",
		StateDispute:   "dispute",
		StateCounter:   "counter",
		StateFailed:    "failed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("String(%d) = %q, want %q", state, got, want)
		}
		if !state.Valid() {
			t.Fatalf("state %s reported invalid", want)
		}
	}
	if PurchaseState(42).Valid() {
		t.Fatalf("out-of-range state reported valid")
	}
}

func TestTerminalStates(t *testing.T) {
	terminal := []PurchaseState{StateCompleted, StateRejected, StateFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s not terminal", s)
		}
	}
	open := []PurchaseState{StateNull, StateRequested, StateAccepted, StateDelivered, StateDispute, StateCounter}
	for _, s := range open {
		if s.Terminal() {
			t.Fatalf("%s reported terminal", s)
		}
	}
}

func TestPurchaseCloneIsDeep(t *testing.T) {
	p := &Purchase{Value: big.NewInt(100), Held: big.NewInt(200)}
	clone := p.Clone()
	clone.Value.SetInt64(1)
	clone.Held.SetInt64(2)
	if p.Value.Int64() != 100 || p.Held.Int64() != 200 {
		t.Fatalf("clone aliases original amounts")
	}
}

func TestSanitizePurchase(t *testing.T) {
	valid := &Purchase{Value: big.NewInt(10), Held: big.NewInt(10), State: StateRequested}
	if _, err := SanitizePurchase(valid); err != nil {
		t.Fatalf("valid purchase rejected: %v", err)
	}

	if _, err := SanitizePurchase(nil); err == nil {
		t.Fatalf("nil purchase accepted")
	}
	if _, err := SanitizePurchase(&Purchase{Value: big.NewInt(-1), Held: big.NewInt(0)}); err == nil {
		t.Fatalf("negative value accepted")
	}
	if _, err := SanitizePurchase(&Purchase{Value: big.NewInt(1), Held: big.NewInt(5), State: StateCompleted}); err == nil {
		t.Fatalf("terminal purchase with held balance accepted")
	}
	invalidState := &Purchase{Value: big.NewInt(1), Held: big.NewInt(0), State: PurchaseState(99)}
	if _, err := SanitizePurchase(invalidState); err == nil {
		t.Fatalf("invalid state accepted")
	}
}

func TestHasCommitment(t *testing.T) {
	p := &Purchase{}
	if p.HasCommitment() {
		t.Fatalf("zero digest treated as commitment")
	}
	p.Commitment[0] = 1
	if !p.HasCommitment() {
		t.Fatalf("commitment not detected")
	}
}

func TestScaleMilliPrice(t *testing.T) {
	want, _ := new(big.Int).SetString("250000000000000000", 10) // 0.25 coin
	if got := ScaleMilliPrice(250); got.Cmp(want) != 0 {
		t.Fatalf("ScaleMilliPrice(250) = %s, want %s", got, want)
	}
	if got := ScaleMilliPrice(0); got.Sign() != 0 {
		t.Fatalf("ScaleMilliPrice(0) = %s, want 0", got)
	}
}
