package types

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func testExtData() *ExtData {
	return &ExtData{
		Recipient:        common.HexToAddress("0x13b75E274Acb0eb9cEd75FcF7eA9AA28E5C7aa42"),
		ExtAmount:        big.NewInt(-80),
		Relayer:          common.HexToAddress("0x01"),
		Fee:              uint256.NewInt(1),
		EncryptedOutput1: []byte{1, 2, 3},
		EncryptedOutput2: []byte{4, 5},
		IsL1Withdrawal:   false,
		L1Fee:            uint256.NewInt(0),
	}
}

func TestExtDataHash(t *testing.T) {
	ed := testExtData()
	h0, err := ed.Hash()
	require.NoError(t, err)
	h1, err := ed.Hash()
	require.NoError(t, err)
	require.True(t, h0.Equal(&h1))

	ed.Recipient = common.HexToAddress("0x02")
	h2, err := ed.Hash()
	require.NoError(t, err)
	require.False(t, h0.Equal(&h2), "recipient must be bound")

	ed = testExtData()
	ed.IsL1Withdrawal = true
	h3, err := ed.Hash()
	require.NoError(t, err)
	require.False(t, h0.Equal(&h3), "withdrawal route must be bound")
}

func TestExtDataABI(t *testing.T) {
	ed := testExtData()
	bz, err := ed.Encode()
	require.NoError(t, err)

	vals, err := extDataArgs.Unpack(bz)
	require.NoError(t, err)
	require.Len(t, vals, 1)

	dec, err := ExtDataFromABI(vals[0])
	require.NoError(t, err)
	require.Equal(t, ed.Recipient, dec.Recipient)
	require.Equal(t, 0, ed.ExtAmount.Cmp(dec.ExtAmount))
	require.Equal(t, ed.Fee, dec.Fee)
	require.Equal(t, ed.EncryptedOutput1, dec.EncryptedOutput1)
	require.Equal(t, ed.EncryptedOutput2, dec.EncryptedOutput2)

	require.True(t, ed.IsDeposit())
	require.Equal(t, uint256.NewInt(80), ed.DepositAmount())
	require.True(t, ed.WithdrawAmount().IsZero())
}
