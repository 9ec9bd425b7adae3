package escrow

import "math/big"

// Status represents the lifecycle stage of an escrow transaction. The chain
// only advances forward one step at a time; Cancelled is the single terminal
// branch reachable from any stage before completion.
type Status uint8

const (
	StatusCreated Status = iota + 1
	StatusInspectionPassed
	StatusPaymentReceived
	StatusCompleted
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusInspectionPassed, StatusPaymentReceived, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status freezes the record.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusInspectionPassed:
		return "inspection_passed"
	case StatusPaymentReceived:
		return "payment_received"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Transaction captures one staged buyer/seller sale with the price held in
// custody. Seller and price are frozen at creation; the record is retained
// for audit after completion or cancellation, never deleted.
type Transaction struct {
	ID             uint64
	AssetID        uint64
	Seller         [20]byte
	Buyer          [20]byte
	Price          *big.Int
	Status         Status
	Completed      bool
	EscrowedAmount *big.Int
	CancelReason   string
	CreatedAt      int64
	UpdatedAt      int64
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Price != nil {
		clone.Price = new(big.Int).Set(t.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	if t.EscrowedAmount != nil {
		clone.EscrowedAmount = new(big.Int).Set(t.EscrowedAmount)
	} else {
		clone.EscrowedAmount = big.NewInt(0)
	}
	return &clone
}
