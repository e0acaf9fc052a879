// Package bridge is the boundary to the cross-chain bridge: the deposit
// payload it relays in and the unwrap requests the pool sends out.
package bridge

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/zk-pool/types"
)

// proofTuple is the ABI form of a proof with its public inputs.
type proofTuple struct {
	Proof             []byte
	Root              [32]byte
	InputNullifiers   [][32]byte
	OutputCommitments [types.NumOutputs][32]byte
	ExtAmount         *big.Int
	Fee               *big.Int
	ExtDataHash       [32]byte
	Shape             uint8
}

var (
	ProofABIType, _ = abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "proof", Type: "bytes"},
		{Name: "root", Type: "bytes32"},
		{Name: "inputNullifiers", Type: "bytes32[]"},
		{Name: "outputCommitments", Type: "bytes32[2]"},
		{Name: "extAmount", Type: "int256"},
		{Name: "fee", Type: "uint256"},
		{Name: "extDataHash", Type: "bytes32"},
		{Name: "shape", Type: "uint8"},
	})

	depositArgs = abi.Arguments{{Type: ProofABIType}, {Type: types.ExtDataABIType}}
)

// EncodeDepositPayload is abi.encode(proof, extData), the data a depositor
// hands to the bridge along with the tokens.
func EncodeDepositPayload(tx *types.Transaction) ([]byte, error) {
	if tx.Inputs == nil || tx.ExtData == nil {
		return nil, fmt.Errorf("incomplete transaction")
	}
	pi := tx.Inputs
	pt := proofTuple{
		Proof:           tx.Proof,
		Root:            pi.Root.Bytes(),
		InputNullifiers: make([][32]byte, len(pi.InputNullifiers)),
		ExtAmount:       pi.ExternalAmount,
		Fee:             pi.RelayerFee.ToBig(),
		ExtDataHash:     pi.ExtDataHash.Bytes(),
		Shape:           uint8(tx.Shape),
	}
	for i := range pi.InputNullifiers {
		pt.InputNullifiers[i] = pi.InputNullifiers[i].Bytes()
	}
	for j := range pi.OutputCommitments {
		pt.OutputCommitments[j] = pi.OutputCommitments[j].Bytes()
	}
	return depositArgs.Pack(pt, tx.ExtData.ABITuple())
}

// DecodeDepositPayload parses and shape-checks a relayed payload.
func DecodeDepositPayload(bz []byte) (*types.Transaction, error) {
	vals, err := depositArgs.Unpack(bz)
	if err != nil {
		return nil, fmt.Errorf("malformed deposit payload: %w", err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("malformed deposit payload: %d values", len(vals))
	}
	pt, ok := abi.ConvertType(vals[0], new(proofTuple)).(*proofTuple)
	if !ok {
		return nil, fmt.Errorf("malformed proof tuple %T", vals[0])
	}
	extData, err := types.ExtDataFromABI(vals[1])
	if err != nil {
		return nil, err
	}

	shape := types.ProofShape(pt.Shape)
	if !shape.Valid() {
		return nil, fmt.Errorf("%w: unknown shape %d", types.ErrInvalidProof, pt.Shape)
	}
	if len(pt.InputNullifiers) > shape.Inputs() {
		return nil, fmt.Errorf("%w: %d nullifiers for %s", types.ErrInvalidProof, len(pt.InputNullifiers), shape)
	}
	fee, overflow := uint256.FromBig(pt.Fee)
	if overflow {
		return nil, fmt.Errorf("%w: fee overflows", types.ErrAmountOutOfRange)
	}

	pi := &types.PublicInputs{
		InputNullifiers: make([]fr.Element, len(pt.InputNullifiers)),
		ExternalAmount:  pt.ExtAmount,
		RelayerFee:      fee,
	}
	if err := setCanonical(&pi.Root, pt.Root); err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	if err := setCanonical(&pi.ExtDataHash, pt.ExtDataHash); err != nil {
		return nil, fmt.Errorf("extDataHash: %w", err)
	}
	for i := range pt.InputNullifiers {
		if err := setCanonical(&pi.InputNullifiers[i], pt.InputNullifiers[i]); err != nil {
			return nil, fmt.Errorf("nullifier %d: %w", i, err)
		}
	}
	for j := range pt.OutputCommitments {
		if err := setCanonical(&pi.OutputCommitments[j], pt.OutputCommitments[j]); err != nil {
			return nil, fmt.Errorf("commitment %d: %w", j, err)
		}
	}

	return &types.Transaction{
		Shape:   shape,
		Proof:   pt.Proof,
		Inputs:  pi,
		ExtData: extData,
	}, nil
}

func setCanonical(e *fr.Element, bz [32]byte) error {
	return e.SetBytesCanonical(bz[:])
}
