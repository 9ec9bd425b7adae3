package ledger

import (
	"math/big"
	"sync"
	"testing"

	coreerrors "deedmarket/core/errors"
	"deedmarket/core/types"
)

type mockState struct {
	mu       sync.Mutex
	accounts map[string]*types.Account
}

func newMockState() *mockState {
	return &mockState{accounts: make(map[string]*types.Account)}
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc, ok := m.accounts[string(addr)]; ok {
		return acc.Clone(), nil
	}
	return nil, nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[string(addr)] = account.Clone()
	return nil
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

var vault = testAddr(0xEE)

func TestCustodyAndPayOut(t *testing.T) {
	state := newMockState()
	l := New(state, vault)
	payer := testAddr(0x01)
	payee := testAddr(0x02)

	if err := l.Credit(payer, big.NewInt(1000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := l.Custody(payer, big.NewInt(400)); err != nil {
		t.Fatalf("custody: %v", err)
	}
	if got, _ := l.BalanceOf(payer); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("payer balance %v", got)
	}
	if got, _ := l.BalanceOf(vault); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("vault balance %v", got)
	}
	if err := l.PayOut(payee, big.NewInt(400)); err != nil {
		t.Fatalf("pay out: %v", err)
	}
	if got, _ := l.BalanceOf(payee); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("payee balance %v", got)
	}
	if got, _ := l.BalanceOf(vault); got.Sign() != 0 {
		t.Fatalf("vault must be drained, got %v", got)
	}
}

func TestCustodyInsufficientBalanceMovesNothing(t *testing.T) {
	state := newMockState()
	l := New(state, vault)
	payer := testAddr(0x01)

	if err := l.Credit(payer, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := l.Custody(payer, big.NewInt(101))
	if coreerrors.KindOf(err) != coreerrors.KindInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if got, _ := l.BalanceOf(payer); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("payer balance must be untouched, got %v", got)
	}
	if got, _ := l.BalanceOf(vault); got.Sign() != 0 {
		t.Fatalf("vault must be untouched, got %v", got)
	}
}

func TestPayOutFromEmptyVault(t *testing.T) {
	state := newMockState()
	l := New(state, vault)

	err := l.PayOut(testAddr(0x02), big.NewInt(1))
	if coreerrors.KindOf(err) != coreerrors.KindInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestAmountValidation(t *testing.T) {
	state := newMockState()
	l := New(state, vault)
	payer := testAddr(0x01)

	if err := l.Custody(payer, nil); coreerrors.KindOf(err) != coreerrors.KindInvalidParams {
		t.Fatalf("nil amount, got %v", err)
	}
	if err := l.Custody(payer, big.NewInt(0)); coreerrors.KindOf(err) != coreerrors.KindInvalidParams {
		t.Fatalf("zero amount, got %v", err)
	}
	if err := l.Custody(payer, big.NewInt(-5)); coreerrors.KindOf(err) != coreerrors.KindInvalidParams {
		t.Fatalf("negative amount, got %v", err)
	}
	if err := l.Credit(payer, big.NewInt(0)); coreerrors.KindOf(err) != coreerrors.KindInvalidParams {
		t.Fatalf("zero credit, got %v", err)
	}
}

func TestConcurrentTransfersConserveValue(t *testing.T) {
	state := newMockState()
	l := New(state, vault)
	payer := testAddr(0x01)

	if err := l.Credit(payer, big.NewInt(1000)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = l.Custody(payer, big.NewInt(1))
			}
		}()
	}
	wg.Wait()

	payerBal, _ := l.BalanceOf(payer)
	vaultBal, _ := l.BalanceOf(vault)
	total := new(big.Int).Add(payerBal, vaultBal)
	if total.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("value not conserved: payer %v vault %v", payerBal, vaultBal)
	}
	if vaultBal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected 100 custodied, got %v", vaultBal)
	}
}
