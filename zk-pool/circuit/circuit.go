// Package circuit defines the transaction circuit and its Groth16 keys.
package circuit

import (
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/kysee/zkpool/zk-pool/types"
)

// TransactionCircuit proves that the spender owns every non-padding input,
// that each input sits in the tree under Root, that the outputs commit to the
// stated amounts and that value is conserved:
//
//	sum(inAmount) == sum(outAmount) + ExternalAmount + RelayerFee
//
// ExternalAmount is signed and enters the field as p - |x| when negative.
// A zero input nullifier marks a padding slot, which must carry amount 0.
type TransactionCircuit struct {
	Root              frontend.Variable                   `gnark:",public"`
	ExternalAmount    frontend.Variable                   `gnark:",public"`
	RelayerFee        frontend.Variable                   `gnark:",public"`
	ExtDataHash       frontend.Variable                   `gnark:",public"`
	InputNullifiers   []frontend.Variable                 `gnark:",public"`
	OutputCommitments [types.NumOutputs]frontend.Variable `gnark:",public"`

	InAmount       []frontend.Variable
	InPrivateKey   []frontend.Variable
	InBlinding     []frontend.Variable
	InPathIndex    []frontend.Variable
	InPathElements [][]frontend.Variable

	OutAmount   [types.NumOutputs]frontend.Variable
	OutPubKey   [types.NumOutputs]frontend.Variable
	OutBlinding [types.NumOutputs]frontend.Variable

	levels int
}

// NewCircuit allocates a circuit for shape over a tree of the given height.
func NewCircuit(shape types.ProofShape, levels int) *TransactionCircuit {
	n := shape.Inputs()
	c := &TransactionCircuit{
		InputNullifiers: make([]frontend.Variable, n),
		InAmount:        make([]frontend.Variable, n),
		InPrivateKey:    make([]frontend.Variable, n),
		InBlinding:      make([]frontend.Variable, n),
		InPathIndex:     make([]frontend.Variable, n),
		InPathElements:  make([][]frontend.Variable, n),
		levels:          levels,
	}
	for i := range c.InPathElements {
		c.InPathElements[i] = make([]frontend.Variable, levels)
	}
	return c
}

func (c *TransactionCircuit) Define(api frontend.API) error {
	if len(c.InPathElements) == 0 {
		return fmt.Errorf("circuit has no inputs")
	}
	levels := len(c.InPathElements[0])

	hFunc, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hash := func(vs ...frontend.Variable) frontend.Variable {
		hFunc.Reset()
		hFunc.Write(vs...)
		return hFunc.Sum()
	}

	sumIns := frontend.Variable(0)
	isPadding := make([]frontend.Variable, len(c.InputNullifiers))
	for i := range c.InputNullifiers {
		_ = api.ToBinary(c.InAmount[i], types.MaxAmountBits)

		pub := hash(c.InPrivateKey[i])
		cm := hash(c.InAmount[i], pub, c.InBlinding[i])
		sig := hash(c.InPrivateKey[i], cm, c.InPathIndex[i])
		nf := hash(cm, c.InPathIndex[i], sig)

		isPadding[i] = api.IsZero(c.InputNullifiers[i])
		isReal := api.Sub(1, isPadding[i])

		// padding carries no value
		api.AssertIsEqual(api.Mul(isPadding[i], c.InAmount[i]), 0)
		api.AssertIsEqual(api.Mul(isReal, api.Sub(nf, c.InputNullifiers[i])), 0)

		// membership under Root, skipped for padding
		bits := api.ToBinary(c.InPathIndex[i], levels)
		node := cm
		for l := 0; l < levels; l++ {
			left := api.Select(bits[l], c.InPathElements[i][l], node)
			right := api.Select(bits[l], node, c.InPathElements[i][l])
			node = hash(left, right)
		}
		api.AssertIsEqual(api.Mul(isReal, api.Sub(node, c.Root)), 0)

		sumIns = api.Add(sumIns, c.InAmount[i])
	}

	// real inputs are pairwise distinct
	for i := 0; i < len(c.InputNullifiers); i++ {
		for j := i + 1; j < len(c.InputNullifiers); j++ {
			same := api.IsZero(api.Sub(c.InputNullifiers[i], c.InputNullifiers[j]))
			api.AssertIsEqual(api.Mul(same, api.Sub(1, isPadding[i])), 0)
		}
	}

	sumOuts := frontend.Variable(0)
	for j := 0; j < types.NumOutputs; j++ {
		_ = api.ToBinary(c.OutAmount[j], types.MaxAmountBits)
		cm := hash(c.OutAmount[j], c.OutPubKey[j], c.OutBlinding[j])
		api.AssertIsEqual(cm, c.OutputCommitments[j])
		sumOuts = api.Add(sumOuts, c.OutAmount[j])
	}

	_ = api.ToBinary(c.RelayerFee, types.MaxAmountBits)
	api.AssertIsEqual(sumIns, api.Add(sumOuts, c.ExternalAmount, c.RelayerFee))

	// binds extDataHash to the proof
	_ = api.Mul(c.ExtDataHash, c.ExtDataHash)
	return nil
}

func (c *TransactionCircuit) Levels() int {
	return c.levels
}
