package types

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
)

// ProofShape selects the verifying circuit. The builder picks it from the
// number of real input notes; nothing infers it from argument counts.
type ProofShape uint8

const (
	TwoInput     ProofShape = 2
	SixteenInput ProofShape = 16
)

// NumOutputs is fixed: a transaction always creates two output commitments.
const NumOutputs = 2

var Shapes = []ProofShape{TwoInput, SixteenInput}

func (s ProofShape) Valid() bool {
	return s == TwoInput || s == SixteenInput
}

// Inputs is the number of input slots of the circuit.
func (s ProofShape) Inputs() int {
	return int(s)
}

func (s ProofShape) String() string {
	switch s {
	case TwoInput:
		return "TwoInput"
	case SixteenInput:
		return "SixteenInput"
	default:
		return fmt.Sprintf("ProofShape(%d)", uint8(s))
	}
}

// ShapeFor picks the smallest circuit that fits n real inputs.
func ShapeFor(n int) (ProofShape, error) {
	switch {
	case n < 0:
		return 0, fmt.Errorf("negative input count %d", n)
	case n <= TwoInput.Inputs():
		return TwoInput, nil
	case n <= SixteenInput.Inputs():
		return SixteenInput, nil
	default:
		return 0, fmt.Errorf("too many inputs: %d > %d", n, SixteenInput.Inputs())
	}
}

// PublicInputs are the values a proof is verified against. InputNullifiers
// lists real inputs only; unused circuit slots are the zero sentinel.
type PublicInputs struct {
	Root              fr.Element
	InputNullifiers   []fr.Element
	OutputCommitments [NumOutputs]fr.Element
	ExtDataHash       fr.Element
	ExternalAmount    *big.Int
	RelayerFee        *uint256.Int
}

// PaddedNullifiers returns the nullifier vector for every slot of shape.
func (pi *PublicInputs) PaddedNullifiers(shape ProofShape) ([]fr.Element, error) {
	if len(pi.InputNullifiers) > shape.Inputs() {
		return nil, fmt.Errorf("%d inputs do not fit %s", len(pi.InputNullifiers), shape)
	}
	out := make([]fr.Element, shape.Inputs())
	copy(out, pi.InputNullifiers)
	return out, nil
}

// Transaction is what a client submits: the proof, what it proves and the
// public payout parameters it is bound to.
type Transaction struct {
	Shape   ProofShape
	Proof   []byte
	Inputs  *PublicInputs
	ExtData *ExtData
}

// EncryptedOutput is the ciphertext published with the commitment at Index.
// Wallets scan these to find notes addressed to them.
type EncryptedOutput struct {
	Index      uint64
	Commitment fr.Element
	Ciphertext []byte
}

// UnwrapStatus tracks the L1 leg of a withdrawal.
type UnwrapStatus uint8

const (
	UnwrapNone UnwrapStatus = iota
	UnwrapRequested
	UnwrapPending
)

func (s UnwrapStatus) String() string {
	switch s {
	case UnwrapNone:
		return "none"
	case UnwrapRequested:
		return "requested"
	case UnwrapPending:
		return "pending"
	default:
		return fmt.Sprintf("UnwrapStatus(%d)", uint8(s))
	}
}

// Receipt describes an accepted transaction.
type Receipt struct {
	OutputIndices   [NumOutputs]uint64
	Root            fr.Element
	SpentNullifiers []fr.Element
	ExternalAmount  *big.Int
	PoolBalance     *uint256.Int

	// Unwrap is UnwrapPending when the bridge refused the request; it stays
	// in the outbox under UnwrapID until reconciled.
	Unwrap   UnwrapStatus
	UnwrapID uint64
}
