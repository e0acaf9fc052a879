package types

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/utils"
)

// ExtData is the public part of a transaction. Its hash is a public input of
// the proof, so none of it can be swapped without invalidating the proof.
//
// ExtAmount is signed: positive pays out of the pool, negative funds it.
type ExtData struct {
	Recipient        common.Address
	ExtAmount        *big.Int
	Relayer          common.Address
	Fee              *uint256.Int
	EncryptedOutput1 []byte
	EncryptedOutput2 []byte
	IsL1Withdrawal   bool
	L1Fee            *uint256.Int
}

// extDataTuple mirrors ExtData with the Go types accounts/abi packs.
type extDataTuple struct {
	Recipient        common.Address
	ExtAmount        *big.Int
	Relayer          common.Address
	Fee              *big.Int
	EncryptedOutput1 []byte
	EncryptedOutput2 []byte
	IsL1Withdrawal   bool
	L1Fee            *big.Int
}

var (
	ExtDataABIType, _ = abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "recipient", Type: "address"},
		{Name: "extAmount", Type: "int256"},
		{Name: "relayer", Type: "address"},
		{Name: "fee", Type: "uint256"},
		{Name: "encryptedOutput1", Type: "bytes"},
		{Name: "encryptedOutput2", Type: "bytes"},
		{Name: "isL1Withdrawal", Type: "bool"},
		{Name: "l1Fee", Type: "uint256"},
	})
	extDataArgs = abi.Arguments{{Type: ExtDataABIType}}
)

// IsDeposit reports whether the transaction pulls value into the pool.
func (ed *ExtData) IsDeposit() bool {
	return ed.ExtAmount.Sign() < 0
}

// IsWithdrawal reports whether the transaction pays value out of the pool.
func (ed *ExtData) IsWithdrawal() bool {
	return ed.ExtAmount.Sign() > 0
}

// DepositAmount is max(0, -ExtAmount).
func (ed *ExtData) DepositAmount() *uint256.Int {
	if !ed.IsDeposit() {
		return uint256.NewInt(0)
	}
	v, _ := uint256.FromBig(new(big.Int).Neg(ed.ExtAmount))
	return v
}

// WithdrawAmount is max(0, ExtAmount).
func (ed *ExtData) WithdrawAmount() *uint256.Int {
	if !ed.IsWithdrawal() {
		return uint256.NewInt(0)
	}
	v, _ := uint256.FromBig(ed.ExtAmount)
	return v
}

// ABITuple returns the value packed by accounts/abi for ExtDataABIType.
func (ed *ExtData) ABITuple() interface{} {
	return extDataTuple{
		Recipient:        ed.Recipient,
		ExtAmount:        ed.ExtAmount,
		Relayer:          ed.Relayer,
		Fee:              ed.Fee.ToBig(),
		EncryptedOutput1: ed.EncryptedOutput1,
		EncryptedOutput2: ed.EncryptedOutput2,
		IsL1Withdrawal:   ed.IsL1Withdrawal,
		L1Fee:            ed.L1Fee.ToBig(),
	}
}

// ExtDataFromABI converts a decoded tuple back into ExtData.
func ExtDataFromABI(v interface{}) (*ExtData, error) {
	t, ok := abi.ConvertType(v, new(extDataTuple)).(*extDataTuple)
	if !ok {
		return nil, fmt.Errorf("unexpected extData tuple %T", v)
	}
	fee, overflow := uint256.FromBig(t.Fee)
	if overflow {
		return nil, fmt.Errorf("%w: fee overflows", ErrAmountOutOfRange)
	}
	l1Fee, overflow := uint256.FromBig(t.L1Fee)
	if overflow {
		return nil, fmt.Errorf("%w: l1 fee overflows", ErrAmountOutOfRange)
	}
	return &ExtData{
		Recipient:        t.Recipient,
		ExtAmount:        t.ExtAmount,
		Relayer:          t.Relayer,
		Fee:              fee,
		EncryptedOutput1: t.EncryptedOutput1,
		EncryptedOutput2: t.EncryptedOutput2,
		IsL1Withdrawal:   t.IsL1Withdrawal,
		L1Fee:            l1Fee,
	}, nil
}

// Encode is abi.encode(extData).
func (ed *ExtData) Encode() ([]byte, error) {
	return extDataArgs.Pack(ed.ABITuple())
}

// Hash = keccak256(abi.encode(extData)) mod FieldSize.
func (ed *ExtData) Hash() (fr.Element, error) {
	bz, err := ed.Encode()
	if err != nil {
		return fr.Element{}, err
	}
	return utils.FieldFromBytes(crypto.Keccak256(bz)), nil
}
