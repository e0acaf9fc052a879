// Package node runs the pool: the single writer of the commitment tree, the
// nullifier set and the external balance.
package node

import (
	"errors"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/zk-pool/bridge"
	"github.com/kysee/zkpool/zk-pool/merkle"
	"github.com/kysee/zkpool/zk-pool/nullifier"
	"github.com/kysee/zkpool/zk-pool/store"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/kysee/zkpool/zk-pool/verifier"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Token is the external value ledger the pool holds its funds in.
type Token interface {
	BalanceOf(addr common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
}

type Pool struct {
	cfg           *Config
	addr          common.Address
	tokenAddr     common.Address
	maxDeposit    *uint256.Int
	minWithdrawal *uint256.Int
	logger        zerolog.Logger

	verifier verifier.Verifier
	token    Token
	bridge   bridge.Adapter
	store    *store.Store

	tree       *merkle.Tree
	nullifiers *nullifier.Set

	mu         sync.RWMutex
	balance    *uint256.Int
	nextUnwrap uint64

	// commit serializes every state transition. Waiters are served in
	// arrival order.
	commit *semaphore.Weighted
}

// NewPool opens the pool over st, initializing it when st is empty.
func NewPool(cfg *Config, st *store.Store, v verifier.Verifier, tk Token, br bridge.Adapter, logger zerolog.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if v == nil || tk == nil || br == nil {
		return nil, fmt.Errorf("pool needs a verifier, a token and a bridge")
	}
	maxDeposit, _ := cfg.MaxDeposit()
	minWithdrawal, _ := cfg.MinWithdrawal()

	p := &Pool{
		cfg:           cfg,
		addr:          common.HexToAddress(cfg.PoolAddress),
		tokenAddr:     common.HexToAddress(cfg.TokenAddress),
		maxDeposit:    maxDeposit,
		minWithdrawal: minWithdrawal,
		logger:        logger.With().Str("module", "pool").Logger(),
		verifier:      v,
		token:         tk,
		bridge:        br,
		store:         st,
		commit:        semaphore.NewWeighted(1),
	}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pool) load() error {
	state, err := p.store.Load()
	if errors.Is(err, store.ErrNotInitialized) {
		tree, err := merkle.New(p.cfg.Levels, p.cfg.RootHistorySize)
		if err != nil {
			return err
		}
		if err := p.store.Init(tree.Snapshot()); err != nil {
			return err
		}
		p.tree = tree
		p.nullifiers = nullifier.NewSet()
		p.balance = uint256.NewInt(0)
		p.logger.Info().Int("levels", p.cfg.Levels).Int("history", p.cfg.RootHistorySize).Msg("initialized empty pool")
		return nil
	} else if err != nil {
		return fmt.Errorf("load pool state: %w", err)
	}

	if state.Tree.Levels != p.cfg.Levels || len(state.Tree.Roots) != p.cfg.RootHistorySize {
		return fmt.Errorf("stored tree has %d levels and %d roots, config wants %d and %d",
			state.Tree.Levels, len(state.Tree.Roots), p.cfg.Levels, p.cfg.RootHistorySize)
	}
	if p.tree, err = merkle.Restore(state.Tree); err != nil {
		return fmt.Errorf("restore tree: %w", err)
	}
	if p.nullifiers, err = nullifier.FromList(state.Nullifiers); err != nil {
		return fmt.Errorf("restore nullifiers: %w", err)
	}
	p.balance = state.Balance
	if p.nextUnwrap, err = p.store.NextUnwrapID(); err != nil {
		return err
	}

	root := p.tree.CurrentRoot()
	p.logger.Info().
		Uint64("leaves", p.tree.NextIndex()).
		Int("nullifiers", p.nullifiers.Len()).
		Str("balance", p.balance.Dec()).
		Hex("root", root.Marshal()).
		Msg("restored pool")
	return nil
}

func (p *Pool) Close() error {
	return p.store.Close()
}

// Address is the pool's account in the token ledger.
func (p *Pool) Address() common.Address {
	return p.addr
}

func (p *Pool) Levels() int {
	return p.tree.Levels()
}

func (p *Pool) CurrentRoot() fr.Element {
	return p.tree.CurrentRoot()
}

func (p *Pool) IsKnownRoot(root fr.Element) bool {
	return p.tree.IsKnownRoot(root)
}

func (p *Pool) NextIndex() uint64 {
	return p.tree.NextIndex()
}

func (p *Pool) IsSpent(nf fr.Element) bool {
	return p.nullifiers.IsSpent(nf)
}

// NullifierDigest lets replicas compare their spent sets.
func (p *Pool) NullifierDigest() []byte {
	return p.nullifiers.Digest()
}

func (p *Pool) MerklePath(index uint64) (*merkle.Path, error) {
	return p.tree.Path(index)
}

func (p *Pool) Paths(indices ...uint64) ([]*merkle.Path, error) {
	return p.tree.Paths(indices...)
}

func (p *Pool) EncryptedOutputs(from uint64) ([]*types.EncryptedOutput, error) {
	return p.store.EncryptedOutputs(from)
}

// Balance is the external value the pool accounts for.
func (p *Pool) Balance() *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(uint256.Int).Set(p.balance)
}

func (p *Pool) PendingUnwraps() ([]*store.UnwrapRequest, error) {
	return p.store.PendingUnwraps()
}
