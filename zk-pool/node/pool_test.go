package node

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/zk-pool/bridge"
	"github.com/kysee/zkpool/zk-pool/prover"
	"github.com/kysee/zkpool/zk-pool/store"
	"github.com/kysee/zkpool/zk-pool/token"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	milliEther = uint64(1e15)
)

var validProof = []byte("valid")

// fakeVerifier accepts exactly the proofs equal to validProof.
type fakeVerifier struct {
	calls atomic.Int64
}

func (f *fakeVerifier) Verify(_ types.ProofShape, proof []byte, _ *types.PublicInputs) error {
	f.calls.Add(1)
	if string(proof) != string(validProof) {
		return types.ErrInvalidProof
	}
	return nil
}

type testEnv struct {
	cfg    *Config
	pool   *Pool
	token  *token.Ledger
	bridge *bridge.OmniBridge
	ver    *fakeVerifier
	alice  *prover.Wallet
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Levels = 5
	cfg.VerifyWorkers = 4
	return cfg
}

func newTestEnv(t *testing.T, cfg *Config) *testEnv {
	st, err := store.OpenMem()
	require.NoError(t, err)
	return newTestEnvWith(t, cfg, st, token.NewLedger(common.HexToAddress(cfg.TokenAddress)))
}

func newTestEnvWith(t *testing.T, cfg *Config, st *store.Store, tk *token.Ledger) *testEnv {
	br := bridge.NewOmniBridge(common.HexToAddress(cfg.BridgeAddress), tk)
	ver := new(fakeVerifier)
	pool, err := NewPool(cfg, st, ver, tk, br, zerolog.Nop())
	require.NoError(t, err)
	return &testEnv{
		cfg:    cfg,
		pool:   pool,
		token:  tk,
		bridge: br,
		ver:    ver,
		alice:  prover.NewWallet(),
	}
}

func amount(milli uint64) *uint256.Int {
	return uint256.NewInt(milli * milliEther)
}

func (e *testEnv) build(t *testing.T, req *prover.Request) *types.Transaction {
	d, err := prover.Build(e.pool, req)
	require.NoError(t, err)
	d.Tx.Proof = validProof
	return d.Tx
}

func (e *testEnv) depositTx(t *testing.T, w *prover.Wallet, amt *uint256.Int) *types.Transaction {
	return e.build(t, &prover.Request{
		Owner:   w.Keypair,
		Outputs: []prover.Output{{To: w.Address(), Amount: amt}},
	})
}

// deposit funds depositor in the token ledger and shields amt into w.
func (e *testEnv) deposit(t *testing.T, depositor common.Address, w *prover.Wallet, amt *uint256.Int) *types.Receipt {
	e.token.Mint(depositor, amt)
	rcpt, err := e.pool.Transact(context.Background(), depositor, e.depositTx(t, w, amt))
	require.NoError(t, err)
	_, err = w.Sync(e.pool)
	require.NoError(t, err)
	return rcpt
}

func (e *testEnv) requireSolvent(t *testing.T) {
	require.Equal(t, e.pool.Balance(), e.token.BalanceOf(e.pool.Address()))
}

func TestDepositAndWithdraw(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	depositor := common.HexToAddress("0xd0")
	recipient := common.HexToAddress("0xe0")
	relayer := common.HexToAddress("0xf0")

	rcpt := env.deposit(t, depositor, env.alice, amount(500))
	require.Equal(t, [types.NumOutputs]uint64{0, 1}, rcpt.OutputIndices)
	require.Equal(t, amount(500), env.pool.Balance())
	require.True(t, env.token.BalanceOf(depositor).IsZero())
	require.Equal(t, rcpt.Root, env.pool.CurrentRoot())
	require.Equal(t, amount(500), env.alice.Balance())
	env.requireSolvent(t)

	// spend 500: 200 out, 10 to the relayer, 290 back as change
	notes := env.alice.Notes()
	require.Len(t, notes, 1)
	tx := env.build(t, &prover.Request{
		Owner:     env.alice.Keypair,
		Inputs:    notes,
		Outputs:   []prover.Output{{To: env.alice.Address(), Amount: amount(290)}},
		Recipient: recipient,
		Relayer:   relayer,
		Fee:       amount(10),
	})
	require.Equal(t, 0, tx.ExtData.ExtAmount.Cmp(amount(200).ToBig()))

	rcpt, err := env.pool.Transact(ctx, relayer, tx)
	require.NoError(t, err)
	require.Len(t, rcpt.SpentNullifiers, 1)
	require.True(t, env.pool.IsSpent(rcpt.SpentNullifiers[0]))
	require.Equal(t, types.UnwrapNone, rcpt.Unwrap)

	require.Equal(t, amount(200), env.token.BalanceOf(recipient))
	require.Equal(t, amount(10), env.token.BalanceOf(relayer))
	require.Equal(t, amount(290), env.pool.Balance())
	env.requireSolvent(t)

	n, err := env.alice.Sync(env.pool)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, amount(290), env.alice.Balance())
}

func TestReplayRejected(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	env.deposit(t, common.HexToAddress("0xd0"), env.alice, amount(100))

	tx := env.build(t, &prover.Request{
		Owner:     env.alice.Keypair,
		Inputs:    env.alice.Notes(),
		Recipient: common.HexToAddress("0xe0"),
	})
	_, err := env.pool.Transact(ctx, common.Address{}, tx)
	require.NoError(t, err)

	root, next := env.pool.CurrentRoot(), env.pool.NextIndex()
	_, err = env.pool.Transact(ctx, common.Address{}, tx)
	require.ErrorIs(t, err, types.ErrAlreadySpent)
	require.False(t, types.IsRetryable(err))
	require.Equal(t, root, env.pool.CurrentRoot())
	require.Equal(t, next, env.pool.NextIndex())
}

func TestZeroNullifierRejected(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.deposit(t, common.HexToAddress("0xd0"), env.alice, amount(100))

	tx := env.build(t, &prover.Request{
		Owner:     env.alice.Keypair,
		Inputs:    env.alice.Notes(),
		Recipient: common.HexToAddress("0xe0"),
	})
	tx.Inputs.InputNullifiers = []fr.Element{{}}
	_, err := env.pool.Transact(context.Background(), common.Address{}, tx)
	require.ErrorIs(t, err, types.ErrZeroNullifierNotAllowed)
}

func TestDuplicateNullifierInTx(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.deposit(t, common.HexToAddress("0xd0"), env.alice, amount(100))

	tx := env.build(t, &prover.Request{
		Owner:     env.alice.Keypair,
		Inputs:    env.alice.Notes(),
		Recipient: common.HexToAddress("0xe0"),
	})
	nf := tx.Inputs.InputNullifiers[0]
	tx.Inputs.InputNullifiers = []fr.Element{nf, nf}
	_, err := env.pool.Transact(context.Background(), common.Address{}, tx)
	require.ErrorIs(t, err, types.ErrAlreadySpent)
	require.False(t, env.pool.IsSpent(nf))
}

func TestExtDataMismatch(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	env.deposit(t, common.HexToAddress("0xd0"), env.alice, amount(100))

	build := func() *types.Transaction {
		return env.build(t, &prover.Request{
			Owner:     env.alice.Keypair,
			Inputs:    env.alice.Notes(),
			Recipient: common.HexToAddress("0xe0"),
		})
	}

	// a relayer swapping the recipient
	tx := build()
	tx.ExtData.Recipient = common.HexToAddress("0xbad")
	_, err := env.pool.Transact(ctx, common.Address{}, tx)
	require.ErrorIs(t, err, types.ErrExtDataMismatch)

	tx = build()
	tx.Inputs.ExternalAmount.SetInt64(1)
	_, err = env.pool.Transact(ctx, common.Address{}, tx)
	require.ErrorIs(t, err, types.ErrExtDataMismatch)

	tx = build()
	tx.Inputs.RelayerFee = uint256.NewInt(1)
	_, err = env.pool.Transact(ctx, common.Address{}, tx)
	require.ErrorIs(t, err, types.ErrExtDataMismatch)

	require.Equal(t, amount(100), env.pool.Balance())
}

func TestInvalidProof(t *testing.T) {
	env := newTestEnv(t, testConfig())
	depositor := common.HexToAddress("0xd0")
	env.token.Mint(depositor, amount(100))

	tx := env.depositTx(t, env.alice, amount(100))
	tx.Proof = []byte("forged")
	_, err := env.pool.Transact(context.Background(), depositor, tx)
	require.ErrorIs(t, err, types.ErrInvalidProof)
	require.Equal(t, uint64(0), env.pool.NextIndex())
	require.Equal(t, amount(100), env.token.BalanceOf(depositor))

	tx = env.depositTx(t, env.alice, amount(100))
	tx.Shape = types.SixteenInput
	_, err = env.pool.Transact(context.Background(), depositor, tx)
	require.ErrorIs(t, err, types.ErrInvalidProof)
}

func TestStaleRoot(t *testing.T) {
	cfg := testConfig()
	cfg.RootHistorySize = 3
	env := newTestEnv(t, cfg)
	depositor := common.HexToAddress("0xd0")

	env.token.Mint(depositor, amount(10))
	old := env.depositTx(t, env.alice, amount(10))

	for i := 0; i < cfg.RootHistorySize; i++ {
		env.deposit(t, depositor, prover.NewWallet(), amount(1))
	}

	_, err := env.pool.Transact(context.Background(), depositor, old)
	require.ErrorIs(t, err, types.ErrStaleRoot)
	require.True(t, types.IsRetryable(err))

	// rebuilding against the current root succeeds
	_, err = env.pool.Transact(context.Background(), depositor, env.depositTx(t, env.alice, amount(10)))
	require.NoError(t, err)
}

func TestRootWithinHistoryAccepted(t *testing.T) {
	cfg := testConfig()
	cfg.RootHistorySize = 3
	env := newTestEnv(t, cfg)
	depositor := common.HexToAddress("0xd0")

	env.token.Mint(depositor, amount(10))
	old := env.depositTx(t, env.alice, amount(10))
	for i := 0; i < cfg.RootHistorySize-1; i++ {
		env.deposit(t, depositor, prover.NewWallet(), amount(1))
	}
	_, err := env.pool.Transact(context.Background(), depositor, old)
	require.NoError(t, err)
}

func TestAmountOutOfRange(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	depositor := common.HexToAddress("0xd0")
	env.token.Mint(depositor, amount(3000))

	_, err := env.pool.Transact(ctx, depositor, env.depositTx(t, env.alice, amount(1001)))
	require.ErrorIs(t, err, types.ErrAmountOutOfRange)

	env.deposit(t, depositor, env.alice, amount(100))

	// l1 withdrawals below the minimum
	tx := env.build(t, &prover.Request{
		Owner:          env.alice.Keypair,
		Inputs:         env.alice.Notes(),
		Outputs:        []prover.Output{{To: env.alice.Address(), Amount: amount(90)}},
		Recipient:      common.HexToAddress("0xe0"),
		IsL1Withdrawal: true,
	})
	_, err = env.pool.Transact(ctx, depositor, tx)
	require.ErrorIs(t, err, types.ErrAmountOutOfRange)

	// withdrawals to nobody
	tx = env.build(t, &prover.Request{
		Owner:  env.alice.Keypair,
		Inputs: env.alice.Notes(),
	})
	_, err = env.pool.Transact(ctx, depositor, tx)
	require.ErrorIs(t, err, types.ErrAmountOutOfRange)
}

func TestDepositNeedsFunds(t *testing.T) {
	env := newTestEnv(t, testConfig())
	_, err := env.pool.Transact(context.Background(), common.HexToAddress("0xd0"), env.depositTx(t, env.alice, amount(10)))
	require.ErrorIs(t, err, token.ErrInsufficientBalance)
	require.Equal(t, uint64(0), env.pool.NextIndex())
}

func TestConcurrentDisjointSubmissions(t *testing.T) {
	env := newTestEnv(t, testConfig())
	depositor := common.HexToAddress("0xd0")
	env.token.Mint(depositor, amount(20))

	// both anchored to the same root
	txs := []*types.Transaction{
		env.depositTx(t, env.alice, amount(10)),
		env.depositTx(t, prover.NewWallet(), amount(10)),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(txs))
	for i, tx := range txs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.pool.Transact(context.Background(), depositor, tx)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, uint64(4), env.pool.NextIndex())
	require.Equal(t, amount(20), env.pool.Balance())
	env.requireSolvent(t)
}

func TestConcurrentDoubleSpend(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.deposit(t, common.HexToAddress("0xd0"), env.alice, amount(100))
	notes := env.alice.Notes()

	const n = 8
	txs := make([]*types.Transaction, n)
	for i := range txs {
		txs[i] = env.build(t, &prover.Request{
			Owner:     env.alice.Keypair,
			Inputs:    notes,
			Recipient: common.BigToAddress(uint256.NewInt(uint64(0xe0 + i)).ToBig()),
		})
	}

	var (
		wg     sync.WaitGroup
		ok     atomic.Int64
		double atomic.Int64
	)
	for _, tx := range txs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.pool.Transact(context.Background(), common.Address{}, tx)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, types.ErrAlreadySpent):
				double.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), ok.Load())
	require.Equal(t, int64(n-1), double.Load())
	require.True(t, env.pool.Balance().IsZero())
	env.requireSolvent(t)
}
