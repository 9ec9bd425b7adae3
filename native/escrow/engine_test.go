package escrow

import (
	"bytes"
	"fmt"
	"math/big"
	"testing"

	coreerrors "deedmarket/core/errors"
	"deedmarket/core/events"
	nativecommon "deedmarket/native/common"
)

type mockState struct {
	transactions map[uint64]*Transaction
	nextID       uint64
}

func newMockState() *mockState {
	return &mockState{transactions: make(map[uint64]*Transaction)}
}

func (m *mockState) TransactionPut(tx *Transaction) error {
	if tx == nil {
		return fmt.Errorf("nil transaction")
	}
	m.transactions[tx.ID] = tx.Clone()
	return nil
}

func (m *mockState) TransactionGet(id uint64) (*Transaction, bool) {
	tx, ok := m.transactions[id]
	if !ok {
		return nil, false
	}
	return tx.Clone(), true
}

func (m *mockState) TransactionIDs() []uint64 {
	ids := make([]uint64, 0, len(m.transactions))
	for id := range m.transactions {
		ids = append(ids, id)
	}
	return ids
}

func (m *mockState) NextTransactionID() (uint64, error) {
	m.nextID++
	return m.nextID, nil
}

type stubAsset struct {
	owner    [20]byte
	verified bool
	listed   bool
	price    *big.Int
}

type stubRegistry struct {
	assets map[uint64]*stubAsset
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{assets: make(map[uint64]*stubAsset)}
}

func (r *stubRegistry) asset(id uint64) (*stubAsset, error) {
	a, ok := r.assets[id]
	if !ok {
		return nil, coreerrors.E(coreerrors.KindNotFound, "asset not found")
	}
	return a, nil
}

func (r *stubRegistry) OwnerOf(id uint64) ([20]byte, error) {
	a, err := r.asset(id)
	if err != nil {
		return [20]byte{}, err
	}
	return a.owner, nil
}

func (r *stubRegistry) IsVerified(id uint64) (bool, error) {
	a, err := r.asset(id)
	if err != nil {
		return false, err
	}
	return a.verified, nil
}

func (r *stubRegistry) IsListedForSale(id uint64) (bool, error) {
	a, err := r.asset(id)
	if err != nil {
		return false, err
	}
	return a.listed, nil
}

func (r *stubRegistry) GetPrice(id uint64) (*big.Int, error) {
	a, err := r.asset(id)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(a.price), nil
}

func (r *stubRegistry) TransferOwnership(id uint64, newOwner [20]byte) error {
	a, err := r.asset(id)
	if err != nil {
		return err
	}
	a.owner = newOwner
	return nil
}

func (r *stubRegistry) SetListedForSale(id uint64, listed bool) error {
	a, err := r.asset(id)
	if err != nil {
		return err
	}
	a.listed = listed
	return nil
}

type stubLedger struct {
	balances     map[[20]byte]*big.Int
	vault        *big.Int
	failPayOutTo map[[20]byte]bool
}

func newStubLedger() *stubLedger {
	return &stubLedger{
		balances:     make(map[[20]byte]*big.Int),
		vault:        big.NewInt(0),
		failPayOutTo: make(map[[20]byte]bool),
	}
}

func (l *stubLedger) balance(addr [20]byte) *big.Int {
	if b, ok := l.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

func (l *stubLedger) credit(addr [20]byte, amount int64) {
	l.balances[addr] = new(big.Int).Add(l.balance(addr), big.NewInt(amount))
}

func (l *stubLedger) Custody(from [20]byte, amount *big.Int) error {
	have := l.balance(from)
	if have.Cmp(amount) < 0 {
		return coreerrors.E(coreerrors.KindInsufficientFunds, "insufficient balance")
	}
	l.balances[from] = have.Sub(have, amount)
	l.vault.Add(l.vault, amount)
	return nil
}

func (l *stubLedger) PayOut(to [20]byte, amount *big.Int) error {
	if l.failPayOutTo[to] {
		return coreerrors.E(coreerrors.KindInternal, "payout refused")
	}
	if l.vault.Cmp(amount) < 0 {
		return coreerrors.E(coreerrors.KindInsufficientFunds, "vault short")
	}
	l.vault.Sub(l.vault, amount)
	l.balances[to] = new(big.Int).Add(l.balance(to), amount)
	return nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

const testNow int64 = 1_700_000_000

var (
	testAdmin  = newTestAddress(0xAD)
	testSeller = newTestAddress(0x01)
	testBuyer  = newTestAddress(0x02)
)

type fixture struct {
	engine   *Engine
	state    *mockState
	registry *stubRegistry
	ledger   *stubLedger
	emitter  *capturingEmitter
	now      int64
}

func newFixture(policy nativecommon.Policy) *fixture {
	f := &fixture{
		state:    newMockState(),
		registry: newStubRegistry(),
		ledger:   newStubLedger(),
		emitter:  &capturingEmitter{},
		now:      testNow,
	}
	f.engine = NewEngine(policy)
	f.engine.SetState(f.state)
	f.engine.SetRegistry(f.registry)
	f.engine.SetLedger(f.ledger)
	f.engine.SetEmitter(f.emitter)
	f.engine.SetNowFunc(func() int64 { return f.now })
	return f
}

func (f *fixture) listAsset(id uint64, owner [20]byte, price int64) {
	f.registry.assets[id] = &stubAsset{
		owner:    owner,
		verified: true,
		listed:   true,
		price:    big.NewInt(price),
	}
}

func (f *fixture) openTransaction(t *testing.T, assetID uint64, price int64) *Transaction {
	t.Helper()
	f.listAsset(assetID, testSeller, price)
	f.ledger.credit(testBuyer, price)
	tx, err := f.engine.CreateTransaction(assetID, testBuyer, big.NewInt(price))
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return tx
}

func TestCreateTransactionValidations(t *testing.T) {
	f := newFixture(nativecommon.Policy{Admin: testAdmin})
	f.listAsset(1, testSeller, 1000)
	f.registry.assets[2] = &stubAsset{owner: testSeller, verified: false, listed: true, price: big.NewInt(1000)}
	f.registry.assets[3] = &stubAsset{owner: testSeller, verified: true, listed: false, price: big.NewInt(1000)}
	f.ledger.credit(testBuyer, 10_000)

	cases := []struct {
		name     string
		assetID  uint64
		buyer    [20]byte
		sent     *big.Int
		wantKind coreerrors.Kind
	}{
		{"ok", 1, testBuyer, big.NewInt(1000), coreerrors.KindUnknown},
		{"zero payment", 1, testBuyer, big.NewInt(0), coreerrors.KindInvalidParams},
		{"unverified asset", 2, testBuyer, big.NewInt(1000), coreerrors.KindInvalidState},
		{"unlisted asset", 3, testBuyer, big.NewInt(1000), coreerrors.KindInvalidState},
		{"unknown asset", 9, testBuyer, big.NewInt(1000), coreerrors.KindNotFound},
		{"underpayment", 1, testBuyer, big.NewInt(999), coreerrors.KindInsufficientFunds},
		{"overpayment", 1, testBuyer, big.NewInt(1001), coreerrors.KindInsufficientFunds},
		{"buyer owns asset", 1, testSeller, big.NewInt(1000), coreerrors.KindInvalidParams},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.CreateTransaction(tc.assetID, tc.buyer, tc.sent)
			if tc.wantKind == coreerrors.KindUnknown {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := coreerrors.KindOf(err); got != tc.wantKind {
				t.Fatalf("expected kind %v, got %v (%v)", tc.wantKind, got, err)
			}
		})
	}
}

func TestCreateTransactionTakesCustody(t *testing.T) {
	f := newFixture(nativecommon.Policy{Admin: testAdmin})
	tx := f.openTransaction(t, 1, 1000)

	if tx.Status != StatusCreated {
		t.Fatalf("expected created status, got %s", tx.Status)
	}
	if tx.Seller != testSeller || tx.Buyer != testBuyer {
		t.Fatalf("parties not recorded: %+v", tx)
	}
	if tx.EscrowedAmount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected 1000 in custody, got %v", tx.EscrowedAmount)
	}
	if got := f.ledger.balance(testBuyer); got.Sign() != 0 {
		t.Fatalf("buyer payment must move to custody, balance %v", got)
	}
	if f.ledger.vault.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("vault must hold the payment, got %v", f.ledger.vault)
	}
}

func TestCreateTransactionRejectsPoorBuyer(t *testing.T) {
	f := newFixture(nativecommon.Policy{Admin: testAdmin})
	f.listAsset(1, testSeller, 1000)
	f.ledger.credit(testBuyer, 500)

	_, err := f.engine.CreateTransaction(1, testBuyer, big.NewInt(1000))
	if coreerrors.KindOf(err) != coreerrors.KindInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if len(f.state.transactions) != 0 {
		t.Fatalf("no record may exist after a failed custody")
	}
}

func TestStatusChainAdvancesOneStepAtATime(t *testing.T) {
	f := newFixture(nativecommon.Policy{Admin: testAdmin})
	tx := f.openTransaction(t, 1, 1000)

	// Skipping a stage is rejected.
	err := f.engine.UpdateTransactionStatus(tx.ID, StatusPaymentReceived, testBuyer)
	if coreerrors.KindOf(err) != coreerrors.KindInvalidState {
		t.Fatalf("expected one-step enforcement, got %v", err)
	}
	if err := f.engine.UpdateTransactionStatus(tx.ID, StatusInspectionPassed, testBuyer); err != nil {
		t.Fatalf("advance to inspection_passed: %v", err)
	}
	// Re-applying the same stage is rejected.
	err = f.engine.UpdateTransactionStatus(tx.ID, StatusInspectionPassed, testBuyer)
	if coreerrors.KindOf(err) != coreerrors.KindInvalidState {
		t.Fatalf("expected repeat rejection, got %v", err)
	}
	if err := f.engine.UpdateTransactionStatus(tx.ID, StatusPaymentReceived, testSeller); err != nil {
		t.Fatalf("advance to payment_received: %v", err)
	}

	stored, _ := f.state.TransactionGet(tx.ID)
	if stored.Status != StatusPaymentReceived {
		t.Fatalf("expected payment_received, got %s", stored.Status)
	}
}

func TestStatusUpdateRejectsTerminalTargetsAndOutsiders(t *testing.T) {
	f := newFixture(nativecommon.Policy{Admin: testAdmin})
	tx := f.openTransaction(t, 1, 1000)

	if err := f.engine.UpdateTransactionStatus(tx.ID, StatusCompleted, testSeller); coreerrors.KindOf(err) != coreerrors.KindInvalidParams {
		t.Fatalf("completed must not be reachable via update, got %v", err)
	}
	if err := f.engine.UpdateTransactionStatus(tx.ID, StatusCancelled, testSeller); coreerrors.KindOf(err) != coreerrors.KindInvalidParams {
		t.Fatalf("cancelled must not be reachable via update, got %v", err)
	}
	outsider := newTestAddress(0x09)
	if err := f.engine.UpdateTransactionStatus(tx.ID, StatusInspectionPassed, outsider); coreerrors.KindOf(err) != coreerrors.KindUnauthorized {
		t.Fatalf("outsider must be rejected, got %v", err)
	}
}

func TestCompleteTransactionReleasesFundsAndOwnership(t *testing.T) {
	f := newFixture(nativecommon.Policy{Admin: testAdmin})
	tx := f.openTransaction(t, 1, 1000)
	if err := f.engine.UpdateTransactionStatus(tx.ID, StatusInspectionPassed, testBuyer); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	if err := f.engine.UpdateTransactionStatus(tx.ID, StatusPaymentReceived, testSeller); err != nil {
		t.Fatalf("payment: %v", err)
	}

	if err := f.engine.CompleteTransaction(tx.ID, testSeller); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stored, _ := f.state.TransactionGet(tx.ID)
	if stored.Status != StatusCompleted || !stored.Completed {
		t.Fatalf("expected completed record, got %+v", stored)
	}
	if stored.EscrowedAmount.Sign() != 0 {
		t.Fatalf("custody must be drained, got %v", stored.EscrowedAmount)
	}
	if got := f.ledger.balance(testSeller); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("seller must receive 1000, got %v", got)
	}
	if f.registry.assets[1].owner != testBuyer {
		t.Fatalf("ownership must pass to the buyer")
	}
	if f.registry.assets[1].listed {
		t.Fatalf("listing must be cleared")
	}

	// Terminal records reject every further mutation.
	if err := f.engine.CompleteTransaction(tx.ID, testSeller); coreerrors.KindOf(err) != coreerrors.KindInvalidState {
		t.Fatalf("second complete must fail, got %v", err)
	}
	if err := f.engine.CancelTransaction(tx.ID, testBuyer, ""); coreerrors.KindOf(err) != coreerrors.KindInvalidState {
		t.Fatalf("cancel after completion must fail, got %v", err)
	}
}

func TestCompleteTransactionRequiresPaymentReceived(t *testing.T) {
	f := newFixture(nativecommon.Policy{Admin: testAdmin})
	tx := f.openTransaction(t, 1, 1000)

	err := f.engine.CompleteTransaction(tx.ID, testSeller)
	if coreerrors.KindOf(err) != coreerrors.KindInvalidState {
		t.Fatalf("expected stage enforcement, got %v", err)
	}
}

func TestCompleteTransactionSellerOnlyByDefault(t *testing.T) {
	f := newFixture(nativecommon.Policy{Admin: testAdmin})
	tx := f.openTransaction(t, 1, 1000)
	if err := f.engine.UpdateTransactionStatus(tx.ID, StatusInspectionPassed, testBuyer); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	if err := f.engine.UpdateTransactionStatus(tx.ID, StatusPaymentReceived, testSeller); err != nil {
		t.Fatalf("payment: %v", err)
	}

	if err := f.engine.CompleteTransaction(tx.ID, testBuyer); coreerrors.KindOf(err) != coreerrors.KindUnauthorized {
		t.Fatalf("buyer must not complete, got %v", err)
	}
	// The admin is rejected unless the capability is enabled.
	if err := f.engine.CompleteTransaction(tx.ID, testAdmin); coreerrors.KindOf(err) != coreerrors.KindUnauthorized {
		t.Fatalf("admin must be rejected without the capability, got %v", err)
	}
}

func TestCompleteTransactionAdminCapability(t *testing.T) {
	f := newFixture(nativecommon.Policy{Admin: testAdmin, AllowAdminComplete: true})
	tx := f.openTransaction(t, 1, 1000)
	if err := f.engine.UpdateTransactionStatus(tx.ID, StatusInspectionPassed, testBuyer); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	if err := f.engine.UpdateTransactionStatus(tx.ID, StatusPaymentReceived, testSeller); err != nil {
		t.Fatalf("payment: %v", err)
	}

	if err := f.engine.CompleteTransaction(tx.ID, testAdmin); err != nil {
		t.Fatalf("admin completion with capability: %v", err)
	}
	if f.registry.assets[1].owner != testBuyer {
		t.Fatalf("ownership must pass to the buyer")
	}
}

func TestCompleteTransactionRevertsOnPayoutFailure(t *testing.T) {
	f := newFixture(nativecommon.Policy{Admin: testAdmin})
	tx := f.openTransaction(t, 1, 1000)
	if err := f.engine.UpdateTransactionStatus(tx.ID, StatusInspectionPassed, testBuyer); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	if err := f.engine.UpdateTransactionStatus(tx.ID, StatusPaymentReceived, testSeller); err != nil {
		t.Fatalf("payment: %v", err)
	}

	f.ledger.failPayOutTo[testSeller] = true
	if err := f.engine.CompleteTransaction(tx.ID, testSeller); err == nil {
		t.Fatalf("expected payout failure")
	}
	stored, _ := f.state.TransactionGet(tx.ID)
	if stored.Status != StatusPaymentReceived || stored.Completed {
		t.Fatalf("record must revert, got %+v", stored)
	}
	if stored.EscrowedAmount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("custody must be restored, got %v", stored.EscrowedAmount)
	}
	if f.registry.assets[1].owner != testSeller {
		t.Fatalf("ownership must not move on a failed completion")
	}

	// Completion is retryable once the payout path recovers.
	delete(f.ledger.failPayOutTo, testSeller)
	if err := f.engine.CompleteTransaction(tx.ID, testSeller); err != nil {
		t.Fatalf("retry complete: %v", err)
	}
}

func TestCancelTransactionRefundsBuyer(t *testing.T) {
	f := newFixture(nativecommon.Policy{Admin: testAdmin})
	tx := f.openTransaction(t, 1, 1000)
	if err := f.engine.UpdateTransactionStatus(tx.ID, StatusInspectionPassed, testBuyer); err != nil {
		t.Fatalf("inspection: %v", err)
	}

	if err := f.engine.CancelTransaction(tx.ID, testSeller, "failed inspection follow-up"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	stored, _ := f.state.TransactionGet(tx.ID)
	if stored.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", stored.Status)
	}
	if stored.CancelReason != "failed inspection follow-up" {
		t.Fatalf("reason not recorded: %q", stored.CancelReason)
	}
	if got := f.ledger.balance(testBuyer); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("buyer must be refunded in full, got %v", got)
	}
	if f.registry.assets[1].owner != testSeller {
		t.Fatalf("ownership must stay with the seller")
	}
}

func TestCancelTransactionOutsiderRejected(t *testing.T) {
	f := newFixture(nativecommon.Policy{Admin: testAdmin})
	tx := f.openTransaction(t, 1, 1000)

	err := f.engine.CancelTransaction(tx.ID, newTestAddress(0x09), "")
	if coreerrors.KindOf(err) != coreerrors.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestCancelTransactionRevertsOnRefundFailure(t *testing.T) {
	f := newFixture(nativecommon.Policy{Admin: testAdmin})
	tx := f.openTransaction(t, 1, 1000)

	f.ledger.failPayOutTo[testBuyer] = true
	if err := f.engine.CancelTransaction(tx.ID, testBuyer, "cold feet"); err == nil {
		t.Fatalf("expected refund failure")
	}
	stored, _ := f.state.TransactionGet(tx.ID)
	if stored.Status != StatusCreated || stored.CancelReason != "" {
		t.Fatalf("record must revert, got %+v", stored)
	}
	if stored.EscrowedAmount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("custody must be restored, got %v", stored.EscrowedAmount)
	}
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	f := newFixture(nativecommon.Policy{Admin: testAdmin})
	pauses := nativecommon.NewPauseRegistry()
	f.engine.SetPauseControl(pauses)
	tx := f.openTransaction(t, 1, 1000)

	if err := f.engine.Pause(testAdmin); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := f.engine.UpdateTransactionStatus(tx.ID, StatusInspectionPassed, testBuyer); coreerrors.KindOf(err) != coreerrors.KindPaused {
		t.Fatalf("expected paused rejection, got %v", err)
	}
	if _, err := f.engine.Get(tx.ID); err != nil {
		t.Fatalf("reads stay available while paused: %v", err)
	}
	if err := f.engine.Unpause(testAdmin); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := f.engine.UpdateTransactionStatus(tx.ID, StatusInspectionPassed, testBuyer); err != nil {
		t.Fatalf("update after unpause: %v", err)
	}
}
