package escrow

import (
	"math/big"
	"time"

	coreerrors "deedmarket/core/errors"
	"deedmarket/core/events"
	"deedmarket/core/types"
	nativecommon "deedmarket/native/common"
)

const moduleName = "escrow"

var (
	errNilState    = coreerrors.E(coreerrors.KindInternal, "escrow engine: state not configured")
	errNilLedger   = coreerrors.E(coreerrors.KindInternal, "escrow engine: ledger not configured")
	errNilRegistry = coreerrors.E(coreerrors.KindInternal, "escrow engine: registry not configured")
	errTxNotFound  = coreerrors.E(coreerrors.KindNotFound, "escrow engine: transaction not found")
)

type engineState interface {
	TransactionPut(*Transaction) error
	TransactionGet(id uint64) (*Transaction, bool)
	TransactionIDs() []uint64
	NextTransactionID() (uint64, error)
}

// assetRegistry is the slice of the registry the escrow engine consumes.
// Reads are point-in-time, taken once per operation.
type assetRegistry interface {
	OwnerOf(assetID uint64) ([20]byte, error)
	IsVerified(assetID uint64) (bool, error)
	IsListedForSale(assetID uint64) (bool, error)
	GetPrice(assetID uint64) (*big.Int, error)
	TransferOwnership(assetID uint64, newOwner [20]byte) error
	SetListedForSale(assetID uint64, listed bool) error
}

// valueLedger moves value between accounts and the custody vault.
type valueLedger interface {
	Custody(from [20]byte, amount *big.Int) error
	PayOut(to [20]byte, amount *big.Int) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine manages the staged buyer/seller sale handshake with the price held
// in custody until completion or cancellation. Completion is the single point
// where money and ownership move together.
type Engine struct {
	state    engineState
	registry assetRegistry
	ledger   valueLedger
	emitter  events.Emitter
	policy   nativecommon.Policy
	pauses   nativecommon.PauseView
	pauseCtl *nativecommon.PauseRegistry
	nowFn    func() int64
	locks    *nativecommon.IDLocks
}

// NewEngine creates an escrow engine with a no-op emitter. The state backend,
// registry and ledger must be configured before use.
func NewEngine(policy nativecommon.Policy) *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		policy:  policy,
		nowFn:   func() int64 { return time.Now().Unix() },
		locks:   nativecommon.NewIDLocks(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry configures the asset registry collaborator.
func (e *Engine) SetRegistry(r assetRegistry) { e.registry = r }

// SetLedger configures the value ledger collaborator.
func (e *Engine) SetLedger(l valueLedger) { e.ledger = l }

// SetPauses configures a read-only pause view consulted before mutations.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetPauseControl wires the pause registry so Pause/Unpause can flip the
// module flag. The registry doubles as the pause view.
func (e *Engine) SetPauseControl(r *nativecommon.PauseRegistry) {
	e.pauseCtl = r
	e.pauses = r
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

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if e.registry == nil {
		return errNilRegistry
	}
	return nil
}

func (e *Engine) loadTransaction(id uint64) (*Transaction, error) {
	tx, ok := e.state.TransactionGet(id)
	if !ok {
		return nil, errTxNotFound
	}
	return tx, nil
}

// CreateTransaction opens a sale against a listed, verified asset. The sent
// value must equal the listed price exactly; it is taken into custody before
// the record exists, and returned in full on any later cancellation.
func (e *Engine) CreateTransaction(assetID uint64, buyer [20]byte, sentValue *big.Int) (*Transaction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if sentValue == nil || sentValue.Sign() <= 0 {
		return nil, coreerrors.E(coreerrors.KindInvalidParams, "escrow: payment must be positive")
	}
	verified, err := e.registry.IsVerified(assetID)
	if err != nil {
		return nil, err
	}
	if !verified {
		return nil, coreerrors.E(coreerrors.KindInvalidState, "escrow: asset not verified")
	}
	listed, err := e.registry.IsListedForSale(assetID)
	if err != nil {
		return nil, err
	}
	if !listed {
		return nil, coreerrors.E(coreerrors.KindInvalidState, "escrow: asset not listed for sale")
	}
	price, err := e.registry.GetPrice(assetID)
	if err != nil {
		return nil, err
	}
	if price.Sign() <= 0 || sentValue.Cmp(price) != 0 {
		return nil, coreerrors.E(coreerrors.KindInsufficientFunds, "escrow: payment must equal listed price")
	}
	seller, err := e.registry.OwnerOf(assetID)
	if err != nil {
		return nil, err
	}
	if buyer == seller {
		return nil, coreerrors.E(coreerrors.KindInvalidParams, "escrow: buyer already owns asset")
	}
	if err := e.ledger.Custody(buyer, sentValue); err != nil {
		return nil, err
	}
	id, err := e.state.NextTransactionID()
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInternal, err, "escrow: allocate id")
	}
	now := e.now()
	tx := &Transaction{
		ID:             id,
		AssetID:        assetID,
		Seller:         seller,
		Buyer:          buyer,
		Price:          new(big.Int).Set(sentValue),
		Status:         StatusCreated,
		EscrowedAmount: new(big.Int).Set(sentValue),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.state.TransactionPut(tx); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInternal, err, "escrow: store transaction")
	}
	e.emit(NewCreatedEvent(tx))
	return tx.Clone(), nil
}

// UpdateTransactionStatus advances the handshake exactly one step forward.
// Completion and cancellation have dedicated entry points; requesting either
// here is rejected.
func (e *Engine) UpdateTransactionStatus(id uint64, newStatus Status, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if newStatus != StatusInspectionPassed && newStatus != StatusPaymentReceived {
		return coreerrors.E(coreerrors.KindInvalidParams, "escrow: status %s not reachable via update", newStatus)
	}
	unlock := e.locks.Lock(id)
	defer unlock()
	tx, err := e.loadTransaction(id)
	if err != nil {
		return err
	}
	if tx.Status.Terminal() {
		return coreerrors.E(coreerrors.KindInvalidState, "escrow: transaction finalized")
	}
	if caller != tx.Buyer && caller != tx.Seller {
		return coreerrors.E(coreerrors.KindUnauthorized, "escrow: buyer or seller required")
	}
	if newStatus != tx.Status+1 {
		return coreerrors.E(coreerrors.KindInvalidState, "escrow: cannot move from %s to %s", tx.Status, newStatus)
	}
	tx.Status = newStatus
	tx.UpdatedAt = e.now()
	if err := e.state.TransactionPut(tx); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "escrow: store transaction")
	}
	e.emit(NewStatusChangedEvent(tx))
	return nil
}

// CompleteTransaction releases the escrowed funds to the seller and transfers
// ownership to the buyer. Only the seller may finalize, unless the platform
// policy explicitly allows the administrator to act on the seller's behalf.
// The record is frozen and the escrowed amount zeroed before the payout is
// attempted; if the payout itself fails the record reverts so completion can
// be retried.
func (e *Engine) CompleteTransaction(id uint64, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	unlock := e.locks.Lock(id)
	defer unlock()
	tx, err := e.loadTransaction(id)
	if err != nil {
		return err
	}
	if tx.Status.Terminal() {
		return coreerrors.E(coreerrors.KindInvalidState, "escrow: transaction finalized")
	}
	if caller != tx.Seller {
		if !(e.policy.AllowAdminComplete && e.policy.IsAdmin(caller)) {
			return coreerrors.E(coreerrors.KindUnauthorized, "escrow: seller role required")
		}
	}
	if tx.Status != StatusPaymentReceived {
		return coreerrors.E(coreerrors.KindInvalidState, "escrow: payment not yet received")
	}
	amount := tx.EscrowedAmount
	if amount == nil || amount.Sign() <= 0 {
		return coreerrors.E(coreerrors.KindInternal, "escrow: nothing in custody")
	}
	payout := new(big.Int).Set(amount)
	tx.EscrowedAmount = big.NewInt(0)
	tx.Status = StatusCompleted
	tx.Completed = true
	tx.UpdatedAt = e.now()
	if err := e.state.TransactionPut(tx); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "escrow: store transaction")
	}
	if err := e.ledger.PayOut(tx.Seller, payout); err != nil {
		tx.EscrowedAmount = payout
		tx.Status = StatusPaymentReceived
		tx.Completed = false
		if putErr := e.state.TransactionPut(tx); putErr != nil {
			return coreerrors.Wrap(coreerrors.KindInternal, putErr, "escrow: store transaction")
		}
		return err
	}
	if err := e.registry.TransferOwnership(tx.AssetID, tx.Buyer); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "escrow: transfer ownership")
	}
	if err := e.registry.SetListedForSale(tx.AssetID, false); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "escrow: clear listing")
	}
	e.emit(NewCompletedEvent(tx))
	return nil
}

// CancelTransaction aborts the sale and refunds the buyer in full. Available
// to buyer and seller from any stage before completion.
func (e *Engine) CancelTransaction(id uint64, caller [20]byte, reason string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	unlock := e.locks.Lock(id)
	defer unlock()
	tx, err := e.loadTransaction(id)
	if err != nil {
		return err
	}
	if tx.Status.Terminal() {
		return coreerrors.E(coreerrors.KindInvalidState, "escrow: transaction finalized")
	}
	if caller != tx.Buyer && caller != tx.Seller {
		return coreerrors.E(coreerrors.KindUnauthorized, "escrow: buyer or seller required")
	}
	amount := tx.EscrowedAmount
	if amount == nil || amount.Sign() <= 0 {
		return coreerrors.E(coreerrors.KindInternal, "escrow: nothing in custody")
	}
	refund := new(big.Int).Set(amount)
	previousStatus := tx.Status
	tx.EscrowedAmount = big.NewInt(0)
	tx.Status = StatusCancelled
	tx.CancelReason = reason
	tx.UpdatedAt = e.now()
	if err := e.state.TransactionPut(tx); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "escrow: store transaction")
	}
	if err := e.ledger.PayOut(tx.Buyer, refund); err != nil {
		tx.EscrowedAmount = refund
		tx.Status = previousStatus
		tx.CancelReason = ""
		if putErr := e.state.TransactionPut(tx); putErr != nil {
			return coreerrors.Wrap(coreerrors.KindInternal, putErr, "escrow: store transaction")
		}
		return err
	}
	e.emit(NewCancelledEvent(tx))
	return nil
}

// Get returns a copy of the transaction record.
func (e *Engine) Get(id uint64) (*Transaction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	tx, err := e.loadTransaction(id)
	if err != nil {
		return nil, err
	}
	return tx.Clone(), nil
}

// List returns copies of all transactions in id order.
func (e *Engine) List() ([]*Transaction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids := e.state.TransactionIDs()
	out := make([]*Transaction, 0, len(ids))
	for _, id := range ids {
		if tx, ok := e.state.TransactionGet(id); ok {
			out = append(out, tx.Clone())
		}
	}
	return out, nil
}

// Pause stops all state-changing escrow entry points.
func (e *Engine) Pause(caller [20]byte) error {
	return e.setPaused(caller, true)
}

// Unpause resumes escrow operations.
func (e *Engine) Unpause(caller [20]byte) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller [20]byte, paused bool) error {
	if !e.policy.IsAdmin(caller) {
		return coreerrors.E(coreerrors.KindUnauthorized, "escrow: administrator role required")
	}
	if e.pauseCtl == nil {
		return coreerrors.E(coreerrors.KindInternal, "escrow: pause control not configured")
	}
	e.pauseCtl.SetPaused(moduleName, paused)
	return nil
}
