package rpc

import (
	"net/http"
	"strings"

	coreerrors "deedmarket/core/errors"
	"deedmarket/native/escrow"
	"deedmarket/observability"
)

type escrowCreateParams struct {
	AssetID uint64 `json:"assetId"`
	Buyer   string `json:"buyer"`
	Amount  string `json:"amount"`
}

type escrowStatusParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
	Status string `json:"status"`
}

type escrowActorParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
}

type escrowCancelParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
	Reason string `json:"reason,omitempty"`
}

type escrowIDParams struct {
	ID uint64 `json:"id"`
}

type escrowJSON struct {
	ID             uint64 `json:"id"`
	AssetID        uint64 `json:"assetId"`
	Seller         string `json:"seller"`
	Buyer          string `json:"buyer"`
	Price          string `json:"price"`
	Status         string `json:"status"`
	Completed      bool   `json:"completed"`
	EscrowedAmount string `json:"escrowedAmount"`
	CancelReason   string `json:"cancelReason,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
	UpdatedAt      int64  `json:"updatedAt"`
}

func escrowToJSON(tx *escrow.Transaction) *escrowJSON {
	if tx == nil {
		return nil
	}
	return &escrowJSON{
		ID:             tx.ID,
		AssetID:        tx.AssetID,
		Seller:         addressString(tx.Seller),
		Buyer:          addressString(tx.Buyer),
		Price:          amountString(tx.Price),
		Status:         tx.Status.String(),
		Completed:      tx.Completed,
		EscrowedAmount: amountString(tx.EscrowedAmount),
		CancelReason:   tx.CancelReason,
		CreatedAt:      tx.CreatedAt,
		UpdatedAt:      tx.UpdatedAt,
	}
}

func parseEscrowStatus(value string) (escrow.Status, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "inspection_passed":
		return escrow.StatusInspectionPassed, nil
	case "payment_received":
		return escrow.StatusPaymentReceived, nil
	case "created", "completed", "cancelled":
		return 0, coreerrors.E(coreerrors.KindInvalidParams, "status %q cannot be set through escrow_updateStatus", value)
	default:
		return 0, coreerrors.E(coreerrors.KindInvalidParams, "unknown status %q", value)
	}
}

func (s *Server) handleEscrowCreate(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params escrowCreateParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		return nil, err
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		return nil, err
	}
	tx, err := s.escrow.CreateTransaction(params.AssetID, buyer, amount)
	if err != nil {
		return nil, err
	}
	return escrowToJSON(tx), nil
}

func (s *Server) handleEscrowUpdateStatus(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params escrowStatusParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return nil, err
	}
	status, err := parseEscrowStatus(params.Status)
	if err != nil {
		return nil, err
	}
	if err := s.escrow.UpdateTransactionStatus(params.ID, status, caller); err != nil {
		return nil, err
	}
	tx, err := s.escrow.Get(params.ID)
	if err != nil {
		return nil, err
	}
	return escrowToJSON(tx), nil
}

func (s *Server) handleEscrowComplete(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params escrowActorParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return nil, err
	}
	if err := s.escrow.CompleteTransaction(params.ID, caller); err != nil {
		return nil, err
	}
	observability.Metrics().EscrowSettled("completed")
	tx, err := s.escrow.Get(params.ID)
	if err != nil {
		return nil, err
	}
	return escrowToJSON(tx), nil
}

func (s *Server) handleEscrowCancel(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params escrowCancelParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return nil, err
	}
	if err := s.escrow.CancelTransaction(params.ID, caller, params.Reason); err != nil {
		return nil, err
	}
	observability.Metrics().EscrowSettled("cancelled")
	tx, err := s.escrow.Get(params.ID)
	if err != nil {
		return nil, err
	}
	return escrowToJSON(tx), nil
}

func (s *Server) handleEscrowGet(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params escrowIDParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	tx, err := s.escrow.Get(params.ID)
	if err != nil {
		return nil, err
	}
	return escrowToJSON(tx), nil
}

func (s *Server) handleEscrowList(_ *http.Request, req *RPCRequest) (interface{}, error) {
	all, err := s.escrow.List()
	if err != nil {
		return nil, err
	}
	out := make([]*escrowJSON, 0, len(all))
	for _, tx := range all {
		out = append(out, escrowToJSON(tx))
	}
	return out, nil
}
