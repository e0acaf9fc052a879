package prover

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/circuit"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/stretchr/testify/require"
)

func requireSolved(t *testing.T, d *Draft) {
	err := test.IsSolved(circuit.NewCircuit(d.Tx.Shape, testLevels), d.assignment, ecc.BN254.ScalarField())
	require.NoError(t, err)
}

func TestBuildDeposit(t *testing.T) {
	l := newLedger(t)
	w := NewWallet()

	d, err := Build(l, &Request{
		Owner:   w.Keypair,
		Outputs: []Output{{To: w.Address(), Amount: uint256.NewInt(1000)}},
	})
	require.NoError(t, err)
	require.Equal(t, types.TwoInput, d.Tx.Shape)
	require.Empty(t, d.Tx.Inputs.InputNullifiers)
	require.Zero(t, d.Tx.ExtData.ExtAmount.Cmp(big.NewInt(-1000)))
	require.Equal(t, l.CurrentRoot(), d.Tx.Inputs.Root)
	require.True(t, d.Outputs[1].IsZero())

	h, err := d.Tx.ExtData.Hash()
	require.NoError(t, err)
	require.Equal(t, h, d.Tx.Inputs.ExtDataHash)

	requireSolved(t, d)
}

func TestBuildTransferAndWithdraw(t *testing.T) {
	l := newLedger(t)
	alice, bob := NewWallet(), NewWallet()
	l.fund(t, alice, 300, 200)

	// private transfer, nothing leaves the pool
	d, err := Build(l, &Request{
		Owner:  alice.Keypair,
		Inputs: alice.Notes(),
		Outputs: []Output{
			{To: bob.Address(), Amount: uint256.NewInt(450)},
			{To: alice.Address(), Amount: uint256.NewInt(50)},
		},
	})
	require.NoError(t, err)
	require.Len(t, d.Tx.Inputs.InputNullifiers, 2)
	require.Zero(t, d.Tx.ExtData.ExtAmount.Sign())
	requireSolved(t, d)
	l.commit(t, d)

	n, err := bob.Sync(l)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = alice.Sync(l)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, uint64(50), alice.Balance().Uint64())

	// bob withdraws through a relayer
	d, err = Build(l, &Request{
		Owner:     bob.Keypair,
		Inputs:    bob.Notes(),
		Outputs:   []Output{{To: bob.Address(), Amount: uint256.NewInt(100)}},
		Recipient: common.HexToAddress("0xe0"),
		Relayer:   common.HexToAddress("0xf0"),
		Fee:       uint256.NewInt(5),
	})
	require.NoError(t, err)
	require.Zero(t, d.Tx.ExtData.ExtAmount.Cmp(big.NewInt(345)))
	require.Equal(t, uint64(5), d.Tx.Inputs.RelayerFee.Uint64())
	requireSolved(t, d)
}

func TestBuildSixteenInputs(t *testing.T) {
	l := newLedger(t)
	w := NewWallet()
	l.fund(t, w, 10, 20, 30)

	d, err := Build(l, &Request{
		Owner:     w.Keypair,
		Inputs:    w.Notes(),
		Recipient: common.HexToAddress("0xe0"),
	})
	require.NoError(t, err)
	require.Equal(t, types.SixteenInput, d.Tx.Shape)
	require.Len(t, d.Tx.Inputs.InputNullifiers, 3)
	require.Zero(t, d.Tx.ExtData.ExtAmount.Cmp(big.NewInt(60)))
	requireSolved(t, d)
}

func TestWitnessRejectsTampering(t *testing.T) {
	l := newLedger(t)
	alice, mallory := NewWallet(), NewWallet()
	l.fund(t, alice, 100)

	build := func() *Draft {
		d, err := Build(l, &Request{
			Owner:     alice.Keypair,
			Inputs:    alice.Notes(),
			Recipient: common.HexToAddress("0xe0"),
		})
		require.NoError(t, err)
		return d
	}
	solve := func(d *Draft) error {
		return test.IsSolved(circuit.NewCircuit(d.Tx.Shape, testLevels), d.assignment, ecc.BN254.ScalarField())
	}

	// more value out than in
	d := build()
	d.assignment.ExternalAmount = 101
	require.Error(t, solve(d))

	// spending with someone else's key
	d = build()
	d.assignment.InPrivateKey[0] = utils.FieldToBig(mallory.Keypair.PrivateKey)
	require.Error(t, solve(d))

	// a forged path
	d = build()
	d.assignment.InPathElements[0][0] = utils.FieldToBig(utils.RandomField())
	require.Error(t, solve(d))

	// value hidden in a padding slot
	d = build()
	d.assignment.InAmount[1] = 7
	require.Error(t, solve(d))

	// the same input twice
	d = build()
	d.assignment.InputNullifiers[1] = d.assignment.InputNullifiers[0]
	d.assignment.InAmount[1] = d.assignment.InAmount[0]
	d.assignment.InPrivateKey[1] = d.assignment.InPrivateKey[0]
	d.assignment.InBlinding[1] = d.assignment.InBlinding[0]
	d.assignment.InPathIndex[1] = d.assignment.InPathIndex[0]
	d.assignment.InPathElements[1] = d.assignment.InPathElements[0]
	d.assignment.ExternalAmount = 200
	require.Error(t, solve(d))
}

func TestBuildErrors(t *testing.T) {
	l := newLedger(t)
	w := NewWallet()
	l.fund(t, w, 100)

	_, err := Build(l, &Request{Outputs: []Output{{To: w.Address(), Amount: uint256.NewInt(1)}}})
	require.Error(t, err)

	_, err = Build(l, &Request{
		Owner:   w.Keypair,
		Outputs: make([]Output, types.NumOutputs+1),
	})
	require.Error(t, err)

	// not the owner
	_, err = Build(l, &Request{Owner: NewWallet().Keypair, Inputs: w.Notes()})
	require.ErrorIs(t, err, types.ErrUnauthorized)

	_, err = Build(l, &Request{
		Owner:   w.Keypair,
		Outputs: []Output{{To: w.Address(), Amount: new(uint256.Int).Set(types.MaxAmount)}},
	})
	require.ErrorIs(t, err, types.ErrInvalidAmount)
}
