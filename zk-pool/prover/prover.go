package prover

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint/solver"
	"github.com/consensys/gnark/frontend"
	"github.com/kysee/zkpool/zk-pool/circuit"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/rs/zerolog"
)

// Prover holds the proving keys of every shape it can prove.
type Prover struct {
	keys   map[types.ProofShape]*circuit.Keys
	logger zerolog.Logger
}

func New(logger zerolog.Logger, keys ...*circuit.Keys) *Prover {
	p := &Prover{
		keys:   make(map[types.ProofShape]*circuit.Keys),
		logger: logger,
	}
	for _, k := range keys {
		p.keys[k.Shape] = k
	}
	return p
}

// Prove generates the Groth16 proof of d and stores it in d.Tx.Proof.
func (p *Prover) Prove(d *Draft) error {
	k, ok := p.keys[d.Tx.Shape]
	if !ok {
		return fmt.Errorf("no proving key for %s", d.Tx.Shape)
	}
	if d.assignment.Levels() != k.Levels {
		return fmt.Errorf("draft built for %d levels, key is for %d", d.assignment.Levels(), k.Levels)
	}

	wtn, err := frontend.NewWitness(d.assignment, ecc.BN254.ScalarField())
	if err != nil {
		return err
	}

	proof, err := groth16.Prove(
		k.CS,
		k.PK,
		wtn,
		backend.WithSolverOptions(
			solver.WithLogger(p.logger),
		),
	)
	if err != nil {
		return err
	}

	bufProof := bytes.NewBuffer(nil)
	if _, err := proof.WriteTo(bufProof); err != nil {
		return err
	}
	d.Tx.Proof = bufProof.Bytes()
	return nil
}

// Transact builds and proves req in one step.
func (p *Prover) Transact(tree Tree, req *Request) (*Draft, error) {
	d, err := Build(tree, req)
	if err != nil {
		return nil, err
	}
	if err := p.Prove(d); err != nil {
		return nil, err
	}
	return d, nil
}
