package circuit

import (
	"bytes"
	"fmt"
	"io"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
)

// ExportSolidity writes the on-chain verifier contract of vk.
func ExportSolidity(vk groth16.VerifyingKey, w io.Writer) error {
	return vk.ExportSolidity(w)
}

// SolidityProof re-encodes a serialized proof in the layout the exported
// contract's verifyProof expects.
func SolidityProof(bzProof []byte) ([]byte, error) {
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(bzProof)); err != nil {
		return nil, err
	}
	p, ok := proof.(*groth16_bn254.Proof)
	if !ok {
		return nil, fmt.Errorf("unexpected proof type %T", proof)
	}
	return p.MarshalSolidity(), nil
}
