package escrow

import (
	"math/big"
	"strconv"

	"deedmarket/core/types"
	"deedmarket/crypto"
)

const (
	EventTypeTransactionCreated       = "escrow.transaction_created"
	EventTypeTransactionStatusChanged = "escrow.transaction_status_changed"
	EventTypeTransactionCompleted     = "escrow.transaction_completed"
	EventTypeTransactionCancelled     = "escrow.transaction_cancelled"
)

// NewCreatedEvent returns the canonical payload for a newly created escrow
// transaction.
func NewCreatedEvent(t *Transaction) *types.Event {
	return newTransactionEvent(EventTypeTransactionCreated, t)
}

// NewStatusChangedEvent returns the payload emitted for a forward status
// step.
func NewStatusChangedEvent(t *Transaction) *types.Event {
	return newTransactionEvent(EventTypeTransactionStatusChanged, t)
}

// NewCompletedEvent returns the payload emitted when funds and ownership have
// both moved.
func NewCompletedEvent(t *Transaction) *types.Event {
	return newTransactionEvent(EventTypeTransactionCompleted, t)
}

// NewCancelledEvent returns the payload emitted when the sale is aborted and
// the buyer refunded.
func NewCancelledEvent(t *Transaction) *types.Event {
	evt := newTransactionEvent(EventTypeTransactionCancelled, t)
	if t != nil && t.CancelReason != "" {
		evt.Attributes["reason"] = t.CancelReason
	}
	return evt
}

func newTransactionEvent(eventType string, t *Transaction) *types.Event {
	attrs := make(map[string]string)
	if t == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["transactionId"] = strconv.FormatUint(t.ID, 10)
	attrs["assetId"] = strconv.FormatUint(t.AssetID, 10)
	attrs["seller"] = addressString(t.Seller)
	attrs["buyer"] = addressString(t.Buyer)
	attrs["price"] = formatAmount(t.Price)
	attrs["status"] = t.Status.String()
	attrs["escrowedAmount"] = formatAmount(t.EscrowedAmount)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func addressString(addr [20]byte) string {
	return crypto.NewAddress(crypto.DeedPrefix, addr[:]).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
