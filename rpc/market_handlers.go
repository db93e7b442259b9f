package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"fairmarket/crypto"
	"fairmarket/market"
)

type updateListingParams struct {
	Caller      string `json:"caller"`
	Item        uint64 `json:"item"`
	Description string `json:"description"`
	PriceMilli  uint64 `json:"priceMilli"`
}

type requestPurchaseParams struct {
	Buyer  string `json:"buyer"`
	Item   uint64 `json:"item"`
	Notes  string `json:"notes"`
	Amount string `json:"amount"`
}

type purchaseActorParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type disputeParams struct {
	ID         string `json:"id"`
	Caller     string `json:"caller"`
	Commitment string `json:"commitment"`
	Amount     string `json:"amount"`
}

type counterParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Bit    bool   `json:"bit"`
	Amount string `json:"amount"`
}

type openParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Bit    bool   `json:"bit"`
	Nonce  string `json:"nonce"`
}

type purchaseIDParams struct {
	ID string `json:"id"`
}

type listingIDParams struct {
	Item uint64 `json:"item"`
}

type balanceParams struct {
	Address string `json:"address"`
}

type requestPurchaseResult struct {
	ID string `json:"id"`
}

type purchaseJSON struct {
	ID         string `json:"id"`
	Item       uint64 `json:"item"`
	Buyer      string `json:"buyer"`
	Value      string `json:"value"`
	Held       string `json:"held"`
	LastAction int64  `json:"lastAction"`
	CreatedAt  int64  `json:"createdAt"`
	Commitment string `json:"commitment,omitempty"`
	SellerBit  bool   `json:"sellerBit"`
	BuyerBit   bool   `json:"buyerBit"`
	Notes      string `json:"notes"`
	State      string `json:"state"`
}

type listingJSON struct {
	Item        uint64 `json:"item"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

func parseAddress(s string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(s))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Raw(), nil
}

func parseHash32(s string) ([32]byte, error) {
	var out [32]byte
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return out, fmt.Errorf("invalid hex value: %w", err)
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func parseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", s)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func formatAddress(raw [20]byte) string {
	return crypto.NewAddress(crypto.MarketPrefix, raw[:]).String()
}

func purchaseToJSON(p *market.Purchase) *purchaseJSON {
	out := &purchaseJSON{
		ID:         hex.EncodeToString(p.ID[:]),
		Item:       p.Item,
		Buyer:      formatAddress(p.Buyer),
		Value:      p.Value.String(),
		Held:       p.Held.String(),
		LastAction: p.LastAction,
		CreatedAt:  p.CreatedAt,
		SellerBit:  p.SellerBit,
		BuyerBit:   p.BuyerBit,
		Notes:      p.Notes,
		State:      p.State.String(),
	}
	if p.HasCommitment() {
		out.Commitment = hex.EncodeToString(p.Commitment[:])
	}
	return out
}

// writeEngineError maps engine sentinel errors onto JSON-RPC error codes and
// HTTP statuses.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, market.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeMarketUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, market.ErrInvalidState):
		writeError(w, http.StatusConflict, id, codeMarketInvalidState, "invalid_state", err.Error())
	case errors.Is(err, market.ErrValueMismatch):
		writeError(w, http.StatusBadRequest, id, codeMarketValueMismatch, "value_mismatch", err.Error())
	case errors.Is(err, market.ErrTimeoutNotElapsed):
		writeError(w, http.StatusConflict, id, codeMarketTimeout, "timeout_not_elapsed", err.Error())
	case errors.Is(err, market.ErrCommitmentMismatch), errors.Is(err, market.ErrNoCommitment):
		writeError(w, http.StatusBadRequest, id, codeMarketCommitment, "commitment_mismatch", err.Error())
	case errors.Is(err, market.ErrPurchaseNotFound), errors.Is(err, market.ErrListingNotFound):
		writeError(w, http.StatusNotFound, id, codeMarketNotFound, "not_found", err.Error())
	case errors.Is(err, market.ErrPurchaseExists):
		writeError(w, http.StatusConflict, id, codeMarketConflict, "conflict", err.Error())
	case errors.Is(err, market.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, id, codeMarketInsufficient, "insufficient_balance", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal_error", err.Error())
	}
}

func (s *Server) handleUpdateListing(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params updateListingParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.UpdateListing(caller, params.Item, params.Description, params.PriceMilli); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRequestPurchase(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params requestPurchaseParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	buyer, err := parseAddress(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := s.engine.RequestPurchase(buyer, params.Item, params.Notes, amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, requestPurchaseResult{ID: hex.EncodeToString(id[:])})
}

// actorOp runs a simple (id, caller) engine operation shared by most
// transitions.
func (s *Server) actorOp(w http.ResponseWriter, r *http.Request, req *RPCRequest, op func(id [32]byte, caller [20]byte) error) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params purchaseActorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseHash32(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := op(id, caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorOp(w, r, req, s.engine.Abort)
}

func (s *Server) handleAcceptContract(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorOp(w, r, req, s.engine.AcceptContract)
}

func (s *Server) handleRejectContract(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorOp(w, r, req, s.engine.RejectContract)
}

func (s *Server) handleItemDelivered(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorOp(w, r, req, s.engine.ItemWasDelivered)
}

func (s *Server) handleConfirmDelivery(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorOp(w, r, req, s.engine.ConfirmDelivery)
}

func (s *Server) handleForfeitDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorOp(w, r, req, s.engine.ForfeitDispute)
}

// handleCallTimeout routes the caller to the buyer or seller timeout path by
// identity: the seller times out Delivered/Counter purchases, any other
// caller is treated as the buyer timing out Accepted/Dispute purchases.
func (s *Server) handleCallTimeout(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorOp(w, r, req, func(id [32]byte, caller [20]byte) error {
		if caller == s.engine.Seller() {
			return s.engine.SellerCallTimeout(id, caller)
		}
		return s.engine.BuyerCallTimeout(id, caller)
	})
}

func (s *Server) handleDisputeDelivery(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params disputeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseHash32(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	commitment, err := parseHash32(params.Commitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.DisputeDelivery(id, caller, commitment, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleCounterDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params counterParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseHash32(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.CounterDispute(id, caller, params.Bit, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleOpenCommitment(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params openParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseHash32(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	nonce, err := parseHash32(params.Nonce)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.OpenCommitment(id, caller, params.Bit, nonce); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleGetPurchase(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params purchaseIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseHash32(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	purchase, err := s.engine.GetPurchase(id)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, purchaseToJSON(purchase))
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params listingIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, err := s.engine.GetListing(params.Item)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingJSON{
		Item:        params.Item,
		Value:       listing.Value.String(),
		Description: listing.Description,
	})
}

func (s *Server) handleGetSellerKey(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, map[string]string{
		"seller":    formatAddress(s.engine.Seller()),
		"publicKey": hex.EncodeToString(s.engine.SellerKey()),
	})
}

func (s *Server) handleGetTimeout(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, map[string]int64{"timeoutSeconds": s.engine.Timeout()})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.engine.GetBalance(addr)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"address": params.Address,
		"balance": balance.String(),
	})
}
