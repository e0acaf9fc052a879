// Package token is an in-process fungible token ledger standing in for the
// ERC20 the pool holds.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

type Ledger struct {
	Address common.Address

	mu       sync.RWMutex
	balances map[common.Address]*uint256.Int
	supply   *uint256.Int
}

func NewLedger(addr common.Address) *Ledger {
	return &Ledger{
		Address:  addr,
		balances: make(map[common.Address]*uint256.Int),
		supply:   uint256.NewInt(0),
	}
}

func (l *Ledger) Mint(to common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.balance(to)
	b.Add(b, amount)
	l.supply.Add(l.supply, amount)
}

func (l *Ledger) BalanceOf(addr common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[addr]; ok {
		return new(uint256.Int).Set(b)
	}
	return uint256.NewInt(0)
}

func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(uint256.Int).Set(l.supply)
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.balance(from)
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), src.Dec(), amount.Dec())
	}
	src.Sub(src, amount)
	dst := l.balance(to)
	dst.Add(dst, amount)
	return nil
}

func (l *Ledger) balance(addr common.Address) *uint256.Int {
	b, ok := l.balances[addr]
	if !ok {
		b = uint256.NewInt(0)
		l.balances[addr] = b
	}
	return b
}
