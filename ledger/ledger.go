package ledger

import (
	"math/big"
	"sync"

	coreerrors "deedmarket/core/errors"
	"deedmarket/core/types"
)

// accountState is the persistence surface the ledger needs: load and store
// accounts keyed by raw address bytes.
type accountState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Ledger moves value between accounts and the platform custody vault. Every
// operation either fully applies or leaves balances untouched; the mutex
// serializes all movements so no two transfers observe a stale balance.
type Ledger struct {
	mu    sync.Mutex
	state accountState
	vault [20]byte
}

// New constructs a ledger operating against the given account state. The
// vault address receives all custodied value.
func New(state accountState, vault [20]byte) *Ledger {
	return &Ledger{state: state, vault: vault}
}

// Vault returns the custody vault address.
func (l *Ledger) Vault() [20]byte { return l.vault }

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func (l *Ledger) transfer(from, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return coreerrors.E(coreerrors.KindInternal, "ledger: state not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return coreerrors.E(coreerrors.KindInvalidParams, "ledger: amount must be positive")
	}
	fromAcc, err := l.state.GetAccount(from[:])
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "ledger: load source account")
	}
	toAcc, err := l.state.GetAccount(to[:])
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "ledger: load destination account")
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return coreerrors.E(coreerrors.KindInsufficientFunds, "ledger: insufficient balance")
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := l.state.PutAccount(from[:], fromAcc); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "ledger: store source account")
	}
	if err := l.state.PutAccount(to[:], toAcc); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "ledger: store destination account")
	}
	return nil
}

// Custody moves amount from the payer into the vault. Rejected when the payer
// cannot cover the amount; nothing moves on rejection.
func (l *Ledger) Custody(from [20]byte, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfer(from, l.vault, amount)
}

// PayOut releases amount from the vault to the recipient. The transfer is
// atomic: it either fully delivers or fails with balances unchanged.
func (l *Ledger) PayOut(to [20]byte, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfer(l.vault, to, amount)
}

// BalanceOf reports the spendable balance of addr.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		return nil, coreerrors.E(coreerrors.KindInternal, "ledger: state not configured")
	}
	acc, err := l.state.GetAccount(addr[:])
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInternal, err, "ledger: load account")
	}
	acc = ensureAccount(acc)
	return new(big.Int).Set(acc.Balance), nil
}

// Credit mints amount into addr. Used for genesis allocations and test
// funding; the daemon only calls it while seeding a fresh data directory.
func (l *Ledger) Credit(addr [20]byte, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		return coreerrors.E(coreerrors.KindInternal, "ledger: state not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return coreerrors.E(coreerrors.KindInvalidParams, "ledger: amount must be positive")
	}
	acc, err := l.state.GetAccount(addr[:])
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "ledger: load account")
	}
	acc = ensureAccount(acc)
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	if err := l.state.PutAccount(addr[:], acc); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "ledger: store account")
	}
	return nil
}
