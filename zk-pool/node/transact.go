package node

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/zk-pool/bridge"
	"github.com/kysee/zkpool/zk-pool/store"
	"github.com/kysee/zkpool/zk-pool/types"
	"golang.org/x/sync/errgroup"
)

// Transact verifies tx and applies it. Deposits are pulled from caller.
//
// Validation runs without holding the commit lock, so independent
// submissions verify concurrently. The commit itself is all-or-nothing and
// runs to completion once started, whatever happens to ctx.
func (p *Pool) Transact(ctx context.Context, caller common.Address, tx *types.Transaction) (*types.Receipt, error) {
	if err := p.check(tx); err != nil {
		p.reject(tx, err)
		return nil, err
	}
	rcpt, err := p.apply(ctx, caller, tx, false)
	if err != nil {
		p.reject(tx, err)
		return nil, err
	}
	return rcpt, nil
}

// TransactBatch verifies txs in parallel and commits the valid ones in
// submission order. The i-th receipt or error belongs to txs[i].
func (p *Pool) TransactBatch(ctx context.Context, caller common.Address, txs []*types.Transaction) ([]*types.Receipt, []error) {
	rcpts := make([]*types.Receipt, len(txs))
	errs := make([]error, len(txs))

	var g errgroup.Group
	g.SetLimit(p.cfg.VerifyWorkers)
	for i, tx := range txs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = p.check(tx)
			return nil
		})
	}
	_ = g.Wait()

	for i, tx := range txs {
		if errs[i] == nil {
			rcpts[i], errs[i] = p.apply(ctx, caller, tx, false)
		}
		if errs[i] != nil {
			p.reject(tx, errs[i])
		}
	}
	return rcpts, errs
}

// OnBridgedDeposit is called by the bridge after it moved amount of
// tokenAddr to the pool. data is the depositor's abi-encoded proof and
// extData. Only the bridge may call it. When the bridge's deposit is rejected
// the custody goes back to the bridge.
func (p *Pool) OnBridgedDeposit(ctx context.Context, caller, tokenAddr common.Address, amount *uint256.Int, data []byte) (*types.Receipt, error) {
	if caller != p.bridge.Address() {
		err := fmt.Errorf("%w: %s", types.ErrNotBridge, caller.Hex())
		p.logger.Warn().Err(err).Str("amount", amount.Dec()).Msg("bridged deposit rejected")
		return nil, err
	}
	rcpt, err := p.onBridgedDeposit(ctx, tokenAddr, amount, data)
	if err != nil {
		p.logger.Info().Err(err).Str("amount", amount.Dec()).Msg("bridged deposit rejected")
		if tokenAddr == p.tokenAddr {
			p.returnCustody(amount)
		}
		return nil, err
	}
	return rcpt, nil
}

func (p *Pool) onBridgedDeposit(ctx context.Context, tokenAddr common.Address, amount *uint256.Int, data []byte) (*types.Receipt, error) {
	if tokenAddr != p.tokenAddr {
		return nil, fmt.Errorf("token %s is not the pool token", tokenAddr.Hex())
	}
	tx, err := bridge.DecodeDepositPayload(data)
	if err != nil {
		return nil, err
	}
	if !tx.ExtData.IsDeposit() || !tx.ExtData.DepositAmount().Eq(amount) {
		return nil, fmt.Errorf("%w: bridged %s, extAmount %s", types.ErrBridgeAmountMismatch, amount.Dec(), tx.ExtData.ExtAmount)
	}
	if err := p.check(tx); err != nil {
		return nil, err
	}
	return p.apply(ctx, p.bridge.Address(), tx, true)
}

// returnCustody sends a rejected bridged deposit back, provided the pool
// actually holds that much beyond what it accounts for.
func (p *Pool) returnCustody(amount *uint256.Int) {
	_ = p.commit.Acquire(context.Background(), 1)
	defer p.commit.Release(1)

	held := p.token.BalanceOf(p.addr)
	surplus, underflow := new(uint256.Int).SubOverflow(held, p.Balance())
	if underflow || surplus.Lt(amount) {
		p.logger.Warn().Str("amount", amount.Dec()).Str("held", held.Dec()).Msg("no unaccounted custody to return")
		return
	}
	if err := p.token.Transfer(p.addr, p.bridge.Address(), amount); err != nil {
		p.logger.Error().Err(err).Msg("failed to return custody to the bridge")
	}
}

// check runs every stateless and read-only validation of tx.
func (p *Pool) check(tx *types.Transaction) error {
	if tx == nil || tx.Inputs == nil || tx.ExtData == nil {
		return fmt.Errorf("%w: incomplete transaction", types.ErrInvalidProof)
	}
	pi, ed := tx.Inputs, tx.ExtData

	if !p.tree.IsKnownRoot(pi.Root) {
		return types.ErrStaleRoot
	}

	if err := p.checkNullifiers(pi.InputNullifiers); err != nil {
		return err
	}
	shape, err := types.ShapeFor(len(pi.InputNullifiers))
	if err != nil || shape != tx.Shape {
		return fmt.Errorf("%w: %d inputs submitted as %s", types.ErrInvalidProof, len(pi.InputNullifiers), tx.Shape)
	}

	if err := checkExtData(pi, ed); err != nil {
		return err
	}

	if err := p.verifier.Verify(tx.Shape, tx.Proof, pi); err != nil {
		if errors.Is(err, types.ErrInvalidProof) {
			return err
		}
		return fmt.Errorf("%w: %v", types.ErrInvalidProof, err)
	}

	return p.checkAmounts(ed)
}

func (p *Pool) checkNullifiers(nfs []fr.Element) error {
	seen := make(map[fr.Element]struct{}, len(nfs))
	for _, nf := range nfs {
		if nf.IsZero() {
			return types.ErrZeroNullifierNotAllowed
		}
		if _, ok := seen[nf]; ok {
			return fmt.Errorf("%w: nullifier repeated within the transaction", types.ErrAlreadySpent)
		}
		seen[nf] = struct{}{}
		if p.nullifiers.IsSpent(nf) {
			return fmt.Errorf("%w: %x", types.ErrAlreadySpent, nf.Bytes())
		}
	}
	return nil
}

func checkExtData(pi *types.PublicInputs, ed *types.ExtData) error {
	if ed.ExtAmount == nil || ed.Fee == nil || ed.L1Fee == nil || pi.ExternalAmount == nil || pi.RelayerFee == nil {
		return fmt.Errorf("%w: missing amounts", types.ErrExtDataMismatch)
	}
	h, err := ed.Hash()
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrExtDataMismatch, err)
	}
	if !h.Equal(&pi.ExtDataHash) {
		return fmt.Errorf("%w: hash", types.ErrExtDataMismatch)
	}
	if ed.ExtAmount.Cmp(pi.ExternalAmount) != 0 {
		return fmt.Errorf("%w: external amount", types.ErrExtDataMismatch)
	}
	if !ed.Fee.Eq(pi.RelayerFee) {
		return fmt.Errorf("%w: relayer fee", types.ErrExtDataMismatch)
	}
	return nil
}

func (p *Pool) checkAmounts(ed *types.ExtData) error {
	if new(big.Int).Abs(ed.ExtAmount).Cmp(types.MaxAmountBig) >= 0 {
		return fmt.Errorf("%w: |extAmount| >= 2^%d", types.ErrAmountOutOfRange, types.MaxAmountBits)
	}
	if ed.Fee.Cmp(types.MaxAmount) >= 0 {
		return fmt.Errorf("%w: fee >= 2^%d", types.ErrAmountOutOfRange, types.MaxAmountBits)
	}
	if ed.IsDeposit() && ed.DepositAmount().Gt(p.maxDeposit) {
		return fmt.Errorf("%w: deposit %s above maximum %s", types.ErrAmountOutOfRange, ed.DepositAmount().Dec(), p.maxDeposit.Dec())
	}
	if ed.IsWithdrawal() && ed.Recipient == (common.Address{}) {
		return fmt.Errorf("%w: withdrawal to the zero address", types.ErrAmountOutOfRange)
	}
	if ed.IsL1Withdrawal && ed.IsWithdrawal() {
		w := ed.WithdrawAmount()
		if w.Lt(p.minWithdrawal) {
			return fmt.Errorf("%w: l1 withdrawal %s below minimum %s", types.ErrAmountOutOfRange, w.Dec(), p.minWithdrawal.Dec())
		}
		if ed.L1Fee.Gt(w) {
			return fmt.Errorf("%w: l1 fee %s above withdrawal %s", types.ErrAmountOutOfRange, ed.L1Fee.Dec(), w.Dec())
		}
	}
	if !ed.Fee.IsZero() && ed.Relayer == (common.Address{}) {
		return fmt.Errorf("%w: fee without a relayer", types.ErrAmountOutOfRange)
	}
	return nil
}

// apply is the commit phase. ctx only bounds the wait for the commit lock.
func (p *Pool) apply(ctx context.Context, caller common.Address, tx *types.Transaction, bridged bool) (*types.Receipt, error) {
	if err := p.commit.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.commit.Release(1)
	ctx = context.WithoutCancel(ctx)

	pi, ed := tx.Inputs, tx.ExtData

	// another commit may have landed since check
	if !p.tree.IsKnownRoot(pi.Root) {
		return nil, types.ErrStaleRoot
	}
	if err := p.checkNullifiers(pi.InputNullifiers); err != nil {
		return nil, err
	}

	deposit, withdraw, fee := ed.DepositAmount(), ed.WithdrawAmount(), ed.Fee
	balance := new(uint256.Int).Add(p.Balance(), deposit)
	payout := new(uint256.Int).Add(withdraw, fee)
	if balance.Lt(payout) {
		return nil, fmt.Errorf("%w: payout %s exceeds pool balance %s", types.ErrAmountOutOfRange, payout.Dec(), balance.Dec())
	}
	balance.Sub(balance, payout)

	update, err := p.tree.PreparePair(pi.OutputCommitments[0], pi.OutputCommitments[1])
	if err != nil {
		return nil, err
	}

	if bridged && !deposit.IsZero() {
		// custody arrived before the call; it must not be counted twice
		held := p.token.BalanceOf(p.addr)
		if held.Lt(new(uint256.Int).Add(p.Balance(), deposit)) {
			return nil, fmt.Errorf("%w: bridged custody not received", types.ErrBridgeAmountMismatch)
		}
	}

	// token movements happen before the commit and are reversed if anything
	// after them fails
	var moves []transfer
	undo := func() {
		for i := len(moves) - 1; i >= 0; i-- {
			m := moves[i]
			if err := p.token.Transfer(m.to, m.from, m.amount); err != nil {
				p.logger.Error().Err(err).Str("from", m.to.Hex()).Str("to", m.from.Hex()).Str("amount", m.amount.Dec()).Msg("failed to reverse transfer")
			}
		}
	}
	move := func(what string, from, to common.Address, amount *uint256.Int) error {
		if amount.IsZero() {
			return nil
		}
		if err := p.token.Transfer(from, to, amount); err != nil {
			undo()
			return fmt.Errorf("%s: %w", what, err)
		}
		moves = append(moves, transfer{from: from, to: to, amount: amount})
		return nil
	}

	if !bridged {
		if err := move("pull deposit", caller, p.addr, deposit); err != nil {
			return nil, err
		}
	}
	// l1 withdrawals go to the bridge, which unwraps them to the recipient
	payee := ed.Recipient
	if ed.IsL1Withdrawal {
		payee = p.bridge.Address()
	}
	if err := move("pay out withdrawal", p.addr, payee, withdraw); err != nil {
		return nil, err
	}
	if err := move("pay relayer fee", p.addr, ed.Relayer, fee); err != nil {
		return nil, err
	}

	var unwrap *store.UnwrapRequest
	if ed.IsL1Withdrawal && !withdraw.IsZero() {
		unwrap = &store.UnwrapRequest{
			ID:        p.nextUnwrap,
			Recipient: ed.Recipient,
			Amount:    withdraw.ToBig(),
			L1Fee:     ed.L1Fee.ToBig(),
		}
	}

	if err := p.store.Commit(&store.Commit{
		Update:           update,
		Nullifiers:       pi.InputNullifiers,
		Balance:          balance,
		EncryptedOutputs: [][]byte{ed.EncryptedOutput1, ed.EncryptedOutput2},
		Unwrap:           unwrap,
	}); err != nil {
		undo()
		return nil, fmt.Errorf("persist transaction: %w", err)
	}

	// the store is the source of truth from here on
	if err := p.tree.Apply(update); err != nil {
		panic(fmt.Sprintf("tree diverged from store: %v", err))
	}
	if err := p.nullifiers.MarkAllSpent(pi.InputNullifiers); err != nil {
		panic(fmt.Sprintf("nullifier set diverged from store: %v", err))
	}
	p.mu.Lock()
	p.balance = balance
	if unwrap != nil {
		p.nextUnwrap++
	}
	p.mu.Unlock()

	rcpt := &types.Receipt{
		OutputIndices:   [types.NumOutputs]uint64{update.StartIndex, update.StartIndex + 1},
		Root:            update.Root,
		SpentNullifiers: append([]fr.Element(nil), pi.InputNullifiers...),
		ExternalAmount:  new(big.Int).Set(ed.ExtAmount),
		PoolBalance:     new(uint256.Int).Set(balance),
	}

	if unwrap != nil {
		rcpt.UnwrapID = unwrap.ID
		rcpt.Unwrap = p.requestUnwrap(ctx, unwrap)
	}

	p.logger.Debug().
		Uint64("left", rcpt.OutputIndices[0]).
		Int("spent", len(rcpt.SpentNullifiers)).
		Str("extAmount", ed.ExtAmount.String()).
		Str("balance", balance.Dec()).
		Stringer("unwrap", rcpt.Unwrap).
		Msg("transaction committed")
	return rcpt, nil
}

type transfer struct {
	from, to common.Address
	amount   *uint256.Int
}

// requestUnwrap sends one outbox entry to the bridge. Failures stay in the
// outbox; internal state is never rolled back.
func (p *Pool) requestUnwrap(ctx context.Context, req *store.UnwrapRequest) types.UnwrapStatus {
	amount, _ := uint256.FromBig(req.Amount)
	l1Fee, _ := uint256.FromBig(req.L1Fee)

	err := p.bridge.RequestL1Unwrap(ctx, req.Recipient, amount, l1Fee)
	if err == nil {
		if err := p.store.CompleteUnwrap(req.ID); err != nil {
			p.logger.Error().Err(err).Uint64("id", req.ID).Msg("failed to clear unwrap from outbox")
		}
		return types.UnwrapRequested
	}

	req.Attempts++
	req.LastError = err.Error()
	p.logger.Warn().Err(err).Uint64("id", req.ID).Uint64("attempts", req.Attempts).Msg("l1 unwrap request failed")
	if err := p.store.UpdateUnwrap(req); err != nil {
		p.logger.Error().Err(err).Uint64("id", req.ID).Msg("failed to update unwrap outbox")
	}
	return types.UnwrapPending
}

// ReconcileUnwraps retries every pending L1 unwrap and returns how many the
// bridge accepted.
func (p *Pool) ReconcileUnwraps(ctx context.Context) (int, error) {
	if err := p.commit.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer p.commit.Release(1)

	pending, err := p.store.PendingUnwraps()
	if err != nil {
		return 0, err
	}
	done := 0
	for _, req := range pending {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if p.requestUnwrap(ctx, req) == types.UnwrapRequested {
			done++
		}
	}
	if len(pending) > 0 {
		p.logger.Info().Int("pending", len(pending)).Int("done", done).Msg("reconciled l1 unwraps")
	}
	return done, nil
}

func (p *Pool) reject(tx *types.Transaction, err error) {
	ev := p.logger.Info().Err(err).Bool("retryable", types.IsRetryable(err))
	if tx != nil {
		ev = ev.Stringer("shape", tx.Shape)
	}
	ev.Msg("transaction rejected")
}
