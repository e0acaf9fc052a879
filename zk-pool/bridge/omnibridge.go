package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/zk-pool/token"
	"github.com/kysee/zkpool/zk-pool/types"
)

// Adapter is the outbound side of the bridge. The pool has already moved the
// withdrawn amount to Address() when it calls RequestL1Unwrap.
type Adapter interface {
	Address() common.Address
	RequestL1Unwrap(ctx context.Context, recipient common.Address, amount, l1Fee *uint256.Int) error
}

// DepositReceiver is the inbound side, implemented by the pool.
type DepositReceiver interface {
	Address() common.Address
	OnBridgedDeposit(ctx context.Context, caller, tokenAddr common.Address, amount *uint256.Int, data []byte) (*types.Receipt, error)
}

var ErrBridgeUnavailable = errors.New("bridge unavailable")

// UnwrapRequest is one accepted L1 unwrap.
type UnwrapRequest struct {
	Recipient common.Address
	Amount    *uint256.Int
	L1Fee     *uint256.Int
}

// OmniBridge is an in-process bridge: its custody account lives in the token
// ledger and unwrap requests are recorded instead of sent to L1.
type OmniBridge struct {
	addr  common.Address
	token *token.Ledger

	mu       sync.Mutex
	requests []UnwrapRequest
	failure  error
}

func NewOmniBridge(addr common.Address, tk *token.Ledger) *OmniBridge {
	return &OmniBridge{addr: addr, token: tk}
}

func (b *OmniBridge) Address() common.Address {
	return b.addr
}

func (b *OmniBridge) RequestL1Unwrap(ctx context.Context, recipient common.Address, amount, l1Fee *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failure != nil {
		return b.failure
	}
	if l1Fee.Gt(amount) {
		return fmt.Errorf("l1 fee %s exceeds unwrap amount %s", l1Fee.Dec(), amount.Dec())
	}
	b.requests = append(b.requests, UnwrapRequest{
		Recipient: recipient,
		Amount:    new(uint256.Int).Set(amount),
		L1Fee:     new(uint256.Int).Set(l1Fee),
	})
	return nil
}

// SetFailure makes every following unwrap request fail with err until it is
// cleared with nil.
func (b *OmniBridge) SetFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failure = err
}

func (b *OmniBridge) Requests() []UnwrapRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]UnwrapRequest(nil), b.requests...)
}

// RelayDeposit delivers bridged tokens held in custody to the pool and
// notifies it with the depositor's payload.
func (b *OmniBridge) RelayDeposit(ctx context.Context, pool DepositReceiver, amount *uint256.Int, data []byte) (*types.Receipt, error) {
	if err := b.Deliver(pool, amount); err != nil {
		return nil, err
	}
	return b.Notify(ctx, pool, amount, data)
}

// Deliver is the token leg of a relay: custody moves to the pool.
func (b *OmniBridge) Deliver(pool DepositReceiver, amount *uint256.Int) error {
	return b.token.Transfer(b.addr, pool.Address(), amount)
}

// Notify is the message leg of a relay, sent as the bridge.
func (b *OmniBridge) Notify(ctx context.Context, pool DepositReceiver, amount *uint256.Int, data []byte) (*types.Receipt, error) {
	return pool.OnBridgedDeposit(ctx, b.addr, b.token.Address, amount, data)
}
