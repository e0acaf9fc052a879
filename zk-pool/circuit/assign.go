package circuit

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/types"
)

// AssignPublic sets the public inputs of c from pi.
func (c *TransactionCircuit) AssignPublic(shape types.ProofShape, pi *types.PublicInputs) error {
	if len(c.InputNullifiers) != shape.Inputs() {
		return fmt.Errorf("circuit has %d input slots, %s needs %d", len(c.InputNullifiers), shape, shape.Inputs())
	}
	nfs, err := pi.PaddedNullifiers(shape)
	if err != nil {
		return err
	}
	if pi.ExternalAmount == nil || pi.RelayerFee == nil {
		return fmt.Errorf("missing external amount or relayer fee")
	}

	c.Root = utils.FieldToBig(pi.Root)
	c.ExternalAmount = utils.FieldToBig(utils.FieldFromBig(pi.ExternalAmount))
	c.RelayerFee = pi.RelayerFee.ToBig()
	c.ExtDataHash = utils.FieldToBig(pi.ExtDataHash)
	for i := range nfs {
		c.InputNullifiers[i] = utils.FieldToBig(nfs[i])
	}
	for j := range pi.OutputCommitments {
		c.OutputCommitments[j] = utils.FieldToBig(pi.OutputCommitments[j])
	}
	return nil
}

// PublicWitness is the witness a verifier checks a proof against.
func PublicWitness(shape types.ProofShape, levels int, pi *types.PublicInputs) (witness.Witness, error) {
	c := NewCircuit(shape, levels)
	if err := c.AssignPublic(shape, pi); err != nil {
		return nil, err
	}
	return frontend.NewWitness(c, ecc.BN254.ScalarField(), frontend.PublicOnly())
}
