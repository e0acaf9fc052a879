// Package prover builds transactions on the client side: it selects the proof
// shape, creates and encrypts output notes, binds extData and proves.
package prover

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/circuit"
	"github.com/kysee/zkpool/zk-pool/merkle"
	"github.com/kysee/zkpool/zk-pool/types"
)

// Tree is the view of the commitment tree the builder needs.
type Tree interface {
	Levels() int
	CurrentRoot() fr.Element
	Paths(indices ...uint64) ([]*merkle.Path, error)
}

// Output is a note to create.
type Output struct {
	To     *types.ShieldedAddress
	Amount *uint256.Int
}

// Request describes a transaction. Owner holds every input and receives the
// padding output. ExtAmount is derived: sum(inputs) - sum(outputs) - Fee.
type Request struct {
	Owner   *types.Keypair
	Inputs  []*types.Note
	Outputs []Output

	Recipient      common.Address
	Relayer        common.Address
	Fee            *uint256.Int
	IsL1Withdrawal bool
	L1Fee          *uint256.Int
}

// Draft is a transaction whose proof is not generated yet.
type Draft struct {
	Tx      *types.Transaction
	Outputs [types.NumOutputs]*types.Note

	assignment *circuit.TransactionCircuit
}

// Build assembles public inputs, extData and the full witness for req.
func Build(tree Tree, req *Request) (*Draft, error) {
	if req.Owner == nil {
		return nil, fmt.Errorf("missing owner keypair")
	}
	shape, err := types.ShapeFor(len(req.Inputs))
	if err != nil {
		return nil, err
	}
	if len(req.Outputs) > types.NumOutputs {
		return nil, fmt.Errorf("too many outputs: %d > %d", len(req.Outputs), types.NumOutputs)
	}
	fee := orZero(req.Fee)
	l1Fee := orZero(req.L1Fee)

	// inputs
	root := tree.CurrentRoot()
	var paths []*merkle.Path
	if len(req.Inputs) > 0 {
		indices := make([]uint64, len(req.Inputs))
		for i, n := range req.Inputs {
			indices[i] = n.Index
		}
		if paths, err = tree.Paths(indices...); err != nil {
			return nil, err
		}
		root = paths[0].Root
	}

	sumIns := new(big.Int)
	nullifiers := make([]fr.Element, len(req.Inputs))
	for i, n := range req.Inputs {
		if nullifiers[i], err = n.Nullifier(n.Index, req.Owner); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		if !paths[i].Verify(n.Commitment()) {
			return nil, fmt.Errorf("input %d is not the commitment at leaf %d", i, n.Index)
		}
		sumIns.Add(sumIns, n.Amount.ToBig())
	}

	// outputs, padded with zero notes to the owner
	outs := make([]Output, 0, types.NumOutputs)
	outs = append(outs, req.Outputs...)
	for len(outs) < types.NumOutputs {
		outs = append(outs, Output{To: req.Owner.ShieldedAddress(), Amount: uint256.NewInt(0)})
	}

	var (
		notes       [types.NumOutputs]*types.Note
		commitments [types.NumOutputs]fr.Element
		encrypted   [types.NumOutputs][]byte
	)
	sumOuts := new(big.Int)
	for j, o := range outs {
		if o.To == nil {
			return nil, fmt.Errorf("output %d has no recipient", j)
		}
		if notes[j], err = types.NewNote(o.Amount, o.To.PubKey); err != nil {
			return nil, fmt.Errorf("output %d: %w", j, err)
		}
		commitments[j] = notes[j].Commitment()
		if encrypted[j], err = notes[j].Encrypt(o.To); err != nil {
			return nil, fmt.Errorf("encrypt output %d: %w", j, err)
		}
		sumOuts.Add(sumOuts, o.Amount.ToBig())
	}

	extAmount := new(big.Int).Sub(sumIns, sumOuts)
	extAmount.Sub(extAmount, fee.ToBig())
	if new(big.Int).Abs(extAmount).Cmp(types.MaxAmountBig) >= 0 {
		return nil, fmt.Errorf("%w: external amount %s", types.ErrAmountOutOfRange, extAmount)
	}

	extData := &types.ExtData{
		Recipient:        req.Recipient,
		ExtAmount:        extAmount,
		Relayer:          req.Relayer,
		Fee:              fee,
		EncryptedOutput1: encrypted[0],
		EncryptedOutput2: encrypted[1],
		IsL1Withdrawal:   req.IsL1Withdrawal,
		L1Fee:            l1Fee,
	}
	extDataHash, err := extData.Hash()
	if err != nil {
		return nil, err
	}

	pi := &types.PublicInputs{
		Root:              root,
		InputNullifiers:   nullifiers,
		OutputCommitments: commitments,
		ExtDataHash:       extDataHash,
		ExternalAmount:    new(big.Int).Set(extAmount),
		RelayerFee:        new(uint256.Int).Set(fee),
	}

	assignment := circuit.NewCircuit(shape, tree.Levels())
	if err := assignment.AssignPublic(shape, pi); err != nil {
		return nil, err
	}
	assignPrivate(assignment, req, paths, notes)

	return &Draft{
		Tx: &types.Transaction{
			Shape:   shape,
			Inputs:  pi,
			ExtData: extData,
		},
		Outputs:    notes,
		assignment: assignment,
	}, nil
}

func assignPrivate(c *circuit.TransactionCircuit, req *Request, paths []*merkle.Path, outs [types.NumOutputs]*types.Note) {
	for i := range c.InAmount {
		if i < len(req.Inputs) {
			n := req.Inputs[i]
			c.InAmount[i] = n.Amount.ToBig()
			c.InPrivateKey[i] = utils.FieldToBig(req.Owner.PrivateKey)
			c.InBlinding[i] = utils.FieldToBig(n.Blinding)
			c.InPathIndex[i] = n.Index
			for l := range c.InPathElements[i] {
				c.InPathElements[i][l] = utils.FieldToBig(paths[i].Siblings[l])
			}
			continue
		}
		// padding slot
		c.InAmount[i] = 0
		c.InPrivateKey[i] = 0
		c.InBlinding[i] = 0
		c.InPathIndex[i] = 0
		for l := range c.InPathElements[i] {
			c.InPathElements[i][l] = 0
		}
	}
	for j, n := range outs {
		c.OutAmount[j] = n.Amount.ToBig()
		c.OutPubKey[j] = utils.FieldToBig(n.PubKey)
		c.OutBlinding[j] = utils.FieldToBig(n.Blinding)
	}
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(v)
}
