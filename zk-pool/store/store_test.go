package store

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/merkle"
	"github.com/stretchr/testify/require"
)

func newTree(t *testing.T) *merkle.Tree {
	tree, err := merkle.New(5, 4)
	require.NoError(t, err)
	return tree
}

func commitPair(t *testing.T, s *Store, tree *merkle.Tree, bal uint64, nfs ...fr.Element) {
	u, err := tree.PreparePair(utils.RandomField(), utils.RandomField())
	require.NoError(t, err)
	require.NoError(t, s.Commit(&Commit{
		Update:           u,
		Nullifiers:       nfs,
		Balance:          uint256.NewInt(bal),
		EncryptedOutputs: [][]byte{[]byte("out-a"), []byte("out-b")},
	}))
	require.NoError(t, tree.Apply(u))
}

func TestLoadEmpty(t *testing.T) {
	s, err := OpenMem()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load()
	require.ErrorIs(t, err, ErrNotInitialized)

	tree := newTree(t)
	require.NoError(t, s.Init(tree.Snapshot()))
	require.Error(t, s.Init(tree.Snapshot()))

	st, err := s.Load()
	require.NoError(t, err)
	require.True(t, st.Balance.IsZero())
	require.Empty(t, st.Nullifiers)

	restored, err := merkle.Restore(st.Tree)
	require.NoError(t, err)
	require.Equal(t, tree.CurrentRoot(), restored.CurrentRoot())
}

func TestCommitAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.db")
	s, err := Open(path)
	require.NoError(t, err)

	tree := newTree(t)
	require.NoError(t, s.Init(tree.Snapshot()))

	nf1, nf2, nf3 := utils.RandomField(), utils.RandomField(), utils.RandomField()
	commitPair(t, s, tree, 80)
	commitPair(t, s, tree, 50, nf1)
	commitPair(t, s, tree, 30, nf2, nf3)

	spent, err := s.IsNullifierSpent(nf2)
	require.NoError(t, err)
	require.True(t, spent)
	spent, err = s.IsNullifierSpent(utils.RandomField())
	require.NoError(t, err)
	require.False(t, spent)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	st, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, []fr.Element{nf1, nf2, nf3}, st.Nullifiers)
	require.Equal(t, uint64(30), st.Balance.Uint64())

	restored, err := merkle.Restore(st.Tree)
	require.NoError(t, err)
	require.Equal(t, tree.CurrentRoot(), restored.CurrentRoot())
	require.Equal(t, tree.NextIndex(), restored.NextIndex())
	require.True(t, restored.IsKnownRoot(tree.CurrentRoot()))

	outs, err := s.EncryptedOutputs(3)
	require.NoError(t, err)
	require.Len(t, outs, 3)
	require.Equal(t, uint64(3), outs[0].Index)
	require.Equal(t, []byte("out-b"), outs[0].Ciphertext)
	leaf, err := tree.Leaf(3)
	require.NoError(t, err)
	require.Equal(t, leaf, outs[0].Commitment)
}

func TestCommitRejectsStaleUpdate(t *testing.T) {
	s, err := OpenMem()
	require.NoError(t, err)
	defer s.Close()

	tree := newTree(t)
	require.NoError(t, s.Init(tree.Snapshot()))

	u, err := tree.PreparePair(utils.RandomField(), utils.RandomField())
	require.NoError(t, err)
	c := &Commit{Update: u, Balance: uint256.NewInt(0)}
	require.NoError(t, s.Commit(c))
	require.Error(t, s.Commit(c))
}

func TestUnwrapOutbox(t *testing.T) {
	s, err := OpenMem()
	require.NoError(t, err)
	defer s.Close()

	tree := newTree(t)
	require.NoError(t, s.Init(tree.Snapshot()))

	id, err := s.NextUnwrapID()
	require.NoError(t, err)
	require.Equal(t, uint64(0), id)

	u, err := tree.PreparePair(utils.RandomField(), utils.RandomField())
	require.NoError(t, err)
	req := &UnwrapRequest{
		ID:        id,
		Recipient: common.HexToAddress("0xdead"),
		Amount:    big.NewInt(50),
		L1Fee:     big.NewInt(0),
	}
	require.NoError(t, s.Commit(&Commit{Update: u, Balance: uint256.NewInt(30), Unwrap: req}))

	id, err = s.NextUnwrapID()
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	pending, err := s.PendingUnwraps()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, req.Recipient, pending[0].Recipient)
	require.Equal(t, int64(50), pending[0].Amount.Int64())

	req.Attempts = 1
	req.LastError = "bridge down"
	require.NoError(t, s.UpdateUnwrap(req))
	pending, err = s.PendingUnwraps()
	require.NoError(t, err)
	require.Equal(t, "bridge down", pending[0].LastError)

	require.NoError(t, s.CompleteUnwrap(req.ID))
	pending, err = s.PendingUnwraps()
	require.NoError(t, err)
	require.Empty(t, pending)
}
