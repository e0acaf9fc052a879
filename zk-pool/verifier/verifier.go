// Package verifier checks transaction proofs against their public inputs.
package verifier

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/kysee/zkpool/zk-pool/circuit"
	"github.com/kysee/zkpool/zk-pool/types"
)

// Verifier is the proof-verification collaborator of the pool. It must be
// safe for concurrent use.
type Verifier interface {
	Verify(shape types.ProofShape, proof []byte, pi *types.PublicInputs) error
}

// Groth16 verifies against one verifying key per shape.
type Groth16 struct {
	levels int

	mu   sync.RWMutex
	keys map[types.ProofShape]groth16.VerifyingKey
}

func NewGroth16(levels int) *Groth16 {
	return &Groth16{
		levels: levels,
		keys:   make(map[types.ProofShape]groth16.VerifyingKey),
	}
}

// LoadGroth16 reads the verifying keys of every shape from dir.
func LoadGroth16(dir string, levels int) (*Groth16, error) {
	v := NewGroth16(levels)
	for _, shape := range types.Shapes {
		vk, err := circuit.LoadVerifyingKey(dir, shape)
		if err != nil {
			return nil, fmt.Errorf("load %s key: %w", shape, err)
		}
		v.Register(shape, vk)
	}
	return v, nil
}

func (v *Groth16) Register(shape types.ProofShape, vk groth16.VerifyingKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[shape] = vk
}

func (v *Groth16) Verify(shape types.ProofShape, bzProof []byte, pi *types.PublicInputs) error {
	v.mu.RLock()
	vk, ok := v.keys[shape]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no verifying key for %s", types.ErrInvalidProof, shape)
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewBuffer(bzProof)); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidProof, err)
	}

	pubWtn, err := circuit.PublicWitness(shape, v.levels, pi)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidProof, err)
	}
	if err := groth16.Verify(proof, vk, pubWtn); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidProof, err)
	}
	return nil
}
