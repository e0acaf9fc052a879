package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/zk-pool/bridge"
	"github.com/kysee/zkpool/zk-pool/circuit"
	"github.com/kysee/zkpool/zk-pool/node"
	"github.com/kysee/zkpool/zk-pool/prover"
	"github.com/kysee/zkpool/zk-pool/store"
	"github.com/kysee/zkpool/zk-pool/token"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/kysee/zkpool/zk-pool/verifier"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newDemoCmd(loadConfig func() *node.Config) *cobra.Command {
	var (
		depositWei  string
		withdrawWei string
		transferWei string
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a bridged deposit, an L1 withdrawal and a private transfer with real proofs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			amounts := make([]*uint256.Int, 3)
			for i, s := range []string{depositWei, withdrawWei, transferWei} {
				v, err := uint256.FromDecimal(s)
				if err != nil {
					return fmt.Errorf("amount %q: %w", s, err)
				}
				amounts[i] = v
			}
			return runDemo(cmd.Context(), cfg, amounts[0], amounts[1], amounts[2])
		},
	}
	cmd.Flags().StringVar(&depositWei, "deposit", "80000000000000000", "Amount bridged in")
	cmd.Flags().StringVar(&withdrawWei, "withdraw", "50000000000000000", "Amount withdrawn to L1")
	cmd.Flags().StringVar(&transferWei, "transfer", "10000000000000000", "Amount sent privately and withdrawn on L2")
	return cmd
}

func loadOrSetup(cfg *node.Config, shape types.ProofShape, logger zerolog.Logger) (*circuit.Keys, error) {
	keys, err := circuit.LoadKeys(cfg.KeyDir, shape, cfg.Levels)
	if err == nil {
		return keys, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	logger.Info().Stringer("shape", shape).Int("levels", cfg.Levels).Msg("no keys found, running setup")
	if keys, err = circuit.Setup(shape, cfg.Levels); err != nil {
		return nil, err
	}
	return keys, keys.Save(cfg.KeyDir)
}

func runDemo(ctx context.Context, cfg *node.Config, deposit, withdraw, transfer *uint256.Int) error {
	logger := cfg.Logger()

	keys, err := loadOrSetup(cfg, types.TwoInput, logger)
	if err != nil {
		return err
	}
	v := verifier.NewGroth16(cfg.Levels)
	v.Register(types.TwoInput, keys.VK)
	p := prover.New(logger, keys)

	var st *store.Store
	if cfg.DataDir == "" {
		st, err = store.OpenMem()
	} else {
		st, err = store.Open(cfg.DataDir)
	}
	if err != nil {
		return err
	}

	tk := token.NewLedger(common.HexToAddress(cfg.TokenAddress))
	br := bridge.NewOmniBridge(common.HexToAddress(cfg.BridgeAddress), tk)
	pool, err := node.NewPool(cfg, st, v, tk, br, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	// the ledger is in-process; back whatever a reopened pool already accounts for
	tk.Mint(pool.Address(), pool.Balance())

	alice, bob := prover.NewWallet(), prover.NewWallet()
	l1Recipient := common.HexToAddress("0x00000000000000000000000000000000000000e1")
	l2Recipient := common.HexToAddress("0x00000000000000000000000000000000000000e2")

	step := func(name string, req *prover.Request, submit func(*types.Transaction) (*types.Receipt, error)) error {
		start := time.Now()
		d, err := p.Transact(pool, req)
		if err != nil {
			return fmt.Errorf("%s: prove: %w", name, err)
		}
		proved := time.Since(start)
		rcpt, err := submit(d.Tx)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		logger.Info().
			Str("step", name).
			Dur("prove", proved).
			Uints64("leaves", rcpt.OutputIndices[:]).
			Str("extAmount", rcpt.ExternalAmount.String()).
			Str("poolBalance", rcpt.PoolBalance.Dec()).
			Stringer("unwrap", rcpt.Unwrap).
			Msg("transaction committed")
		for _, w := range []*prover.Wallet{alice, bob} {
			if _, err := w.Sync(pool); err != nil {
				return err
			}
		}
		return nil
	}

	// 1. bridged deposit
	tk.Mint(br.Address(), deposit)
	err = step("bridged deposit", &prover.Request{
		Owner:   alice.Keypair,
		Outputs: []prover.Output{{To: alice.Address(), Amount: deposit}},
	}, func(tx *types.Transaction) (*types.Receipt, error) {
		payload, err := bridge.EncodeDepositPayload(tx)
		if err != nil {
			return nil, err
		}
		return br.RelayDeposit(ctx, pool, deposit, payload)
	})
	if err != nil {
		return err
	}

	// 2. l1 withdrawal with change
	notes, err := alice.Select(withdraw)
	if err != nil {
		return err
	}
	err = step("l1 withdrawal", &prover.Request{
		Owner:          alice.Keypair,
		Inputs:         notes,
		Outputs:        []prover.Output{{To: alice.Address(), Amount: change(notes, withdraw)}},
		Recipient:      l1Recipient,
		IsL1Withdrawal: true,
	}, func(tx *types.Transaction) (*types.Receipt, error) {
		return pool.Transact(ctx, common.Address{}, tx)
	})
	if err != nil {
		return err
	}

	// 3. private transfer
	if notes, err = alice.Select(transfer); err != nil {
		return err
	}
	err = step("private transfer", &prover.Request{
		Owner:  alice.Keypair,
		Inputs: notes,
		Outputs: []prover.Output{
			{To: bob.Address(), Amount: transfer},
			{To: alice.Address(), Amount: change(notes, transfer)},
		},
	}, func(tx *types.Transaction) (*types.Receipt, error) {
		return pool.Transact(ctx, common.Address{}, tx)
	})
	if err != nil {
		return err
	}

	// 4. bob withdraws on L2
	err = step("l2 withdrawal", &prover.Request{
		Owner:     bob.Keypair,
		Inputs:    bob.Notes(),
		Recipient: l2Recipient,
	}, func(tx *types.Transaction) (*types.Receipt, error) {
		return pool.Transact(ctx, common.Address{}, tx)
	})
	if err != nil {
		return err
	}

	root := pool.CurrentRoot()
	fmt.Printf("\nPool\n")
	fmt.Printf("  Root:        0x%x\n", root.Marshal())
	fmt.Printf("  Leaves:      %d\n", pool.NextIndex())
	fmt.Printf("  Balance:     %s\n", pool.Balance().Dec())
	fmt.Printf("Shielded\n")
	fmt.Printf("  %s: %s\n", alice.Address(), alice.Balance().Dec())
	fmt.Printf("  %s: %s\n", bob.Address(), bob.Balance().Dec())
	fmt.Printf("Token\n")
	fmt.Printf("  bridge %s: %s\n", br.Address().Hex(), tk.BalanceOf(br.Address()).Dec())
	fmt.Printf("  l2     %s: %s\n", l2Recipient.Hex(), tk.BalanceOf(l2Recipient).Dec())
	for _, req := range br.Requests() {
		fmt.Printf("  unwrap %s -> %s\n", req.Amount.Dec(), req.Recipient.Hex())
	}
	return nil
}

// change is what is left of notes after spending amount.
func change(notes []*types.Note, amount *uint256.Int) *uint256.Int {
	sum := uint256.NewInt(0)
	for _, n := range notes {
		sum.Add(sum, n.Amount)
	}
	return sum.Sub(sum, amount)
}
