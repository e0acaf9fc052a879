package prover

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/zk-pool/merkle"
	"github.com/kysee/zkpool/zk-pool/nullifier"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/stretchr/testify/require"
)

const testLevels = 5

// ledger accepts drafts without verifying them.
type ledger struct {
	*merkle.Tree
	outputs []*types.EncryptedOutput
	spent   *nullifier.Set
}

func newLedger(t *testing.T) *ledger {
	tree, err := merkle.New(testLevels, merkle.DefaultRootHistorySize)
	require.NoError(t, err)
	return &ledger{Tree: tree, spent: nullifier.NewSet()}
}

func (l *ledger) commit(t *testing.T, d *Draft) {
	pi, ed := d.Tx.Inputs, d.Tx.ExtData
	require.NoError(t, l.spent.MarkAllSpent(pi.InputNullifiers))
	left, right, err := l.InsertPair(pi.OutputCommitments[0], pi.OutputCommitments[1])
	require.NoError(t, err)
	l.outputs = append(l.outputs,
		&types.EncryptedOutput{Index: left, Commitment: pi.OutputCommitments[0], Ciphertext: ed.EncryptedOutput1},
		&types.EncryptedOutput{Index: right, Commitment: pi.OutputCommitments[1], Ciphertext: ed.EncryptedOutput2},
	)
}

func (l *ledger) EncryptedOutputs(from uint64) ([]*types.EncryptedOutput, error) {
	if from >= uint64(len(l.outputs)) {
		return nil, nil
	}
	return l.outputs[from:], nil
}

func (l *ledger) IsSpent(nf fr.Element) bool {
	return l.spent.IsSpent(nf)
}

// fund shields each amount into w as its own note.
func (l *ledger) fund(t *testing.T, w *Wallet, amounts ...uint64) {
	for _, a := range amounts {
		d, err := Build(l, &Request{
			Owner:   w.Keypair,
			Outputs: []Output{{To: w.Address(), Amount: uint256.NewInt(a)}},
		})
		require.NoError(t, err)
		l.commit(t, d)
	}
	_, err := w.Sync(l)
	require.NoError(t, err)
}
