package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/qanchornet/qanchor/shared"
)

// InMemoryLedger is a process-local Ledger used by the standalone daemon and
// in tests. Balances exist only for the lifetime of the process.
type InMemoryLedger struct {
	mu         sync.Mutex
	balances   map[shared.Address]*uint256.Int
	allowances map[shared.Address]map[shared.Address]*uint256.Int
}

var _ Ledger = (*InMemoryLedger)(nil)

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		balances:   make(map[shared.Address]*uint256.Int),
		allowances: make(map[shared.Address]map[shared.Address]*uint256.Int),
	}
}

// Mint credits account with amount out of thin air. Genesis/test helper.
func (l *InMemoryLedger) Mint(account shared.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(account, amount)
}

func (l *InMemoryLedger) BalanceOf(_ context.Context, account shared.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[account]; ok {
		return b.Clone(), nil
	}
	return uint256.NewInt(0), nil
}

func (l *InMemoryLedger) Allowance(_ context.Context, owner, spender shared.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.allowances[owner][spender]; ok {
		return a.Clone(), nil
	}
	return uint256.NewInt(0), nil
}

func (l *InMemoryLedger) Approve(_ context.Context, owner, spender shared.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[shared.Address]*uint256.Int)
	}
	l.allowances[owner][spender] = amount.Clone()
	return nil
}

func (l *InMemoryLedger) Transfer(_ context.Context, from, to shared.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

func (l *InMemoryLedger) TransferFrom(
	_ context.Context,
	spender, from, to shared.Address,
	amount *uint256.Int,
) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	allowance, ok := l.allowances[from][spender]
	if !ok || allowance.Cmp(amount) < 0 {
		return fmt.Errorf(
			"%w: %s allows %s to spend %s, need %s",
			ErrInsufficientAllowance, from, spender, allowanceOrZero(allowance), amount,
		)
	}
	if err := l.move(from, to, amount); err != nil {
		return err
	}
	l.allowances[from][spender] = new(uint256.Int).Sub(allowance, amount)
	return nil
}

// move transfers amount between accounts. Callers hold the lock.
func (l *InMemoryLedger) move(from, to shared.Address, amount *uint256.Int) error {
	balance, ok := l.balances[from]
	if !ok || balance.Cmp(amount) < 0 {
		return fmt.Errorf(
			"%w: %s holds %s, need %s",
			ErrInsufficientBalance, from, allowanceOrZero(balance), amount,
		)
	}
	l.balances[from] = new(uint256.Int).Sub(balance, amount)
	l.credit(to, amount)
	return nil
}

func (l *InMemoryLedger) credit(account shared.Address, amount *uint256.Int) {
	if b, ok := l.balances[account]; ok {
		l.balances[account] = new(uint256.Int).Add(b, amount)
		return
	}
	l.balances[account] = amount.Clone()
}

func allowanceOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v
}
