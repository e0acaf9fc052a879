package circuit

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/kysee/zkpool/zk-pool/types"
)

// Keys is the compiled circuit of one shape with its Groth16 keys.
type Keys struct {
	Shape  types.ProofShape
	Levels int
	CS     constraint.ConstraintSystem
	PK     groth16.ProvingKey
	VK     groth16.VerifyingKey
}

func Compile(shape types.ProofShape, levels int) (constraint.ConstraintSystem, error) {
	if !shape.Valid() {
		return nil, fmt.Errorf("unknown proof shape %s", shape)
	}
	return frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, NewCircuit(shape, levels), frontend.IgnoreUnconstrainedInputs())
}

// Setup compiles the circuit and runs a local Groth16 setup. The toxic waste
// is not destroyed verifiably; production keys come from a ceremony.
func Setup(shape types.ProofShape, levels int) (*Keys, error) {
	ccs, err := Compile(shape, levels)
	if err != nil {
		return nil, fmt.Errorf("compile %s circuit: %w", shape, err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("setup %s circuit: %w", shape, err)
	}
	return &Keys{Shape: shape, Levels: levels, CS: ccs, PK: pk, VK: vk}, nil
}

func fileName(shape types.ProofShape, ext string) string {
	return fmt.Sprintf("transaction%d.%s", shape.Inputs(), ext)
}

// Save writes the constraint system and both keys under dir.
func (k *Keys) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for ext, obj := range map[string]io.WriterTo{
		"r1cs": k.CS,
		"pk":   k.PK,
		"vk":   k.VK,
	} {
		var buf bytes.Buffer
		if _, err := obj.WriteTo(&buf); err != nil {
			return fmt.Errorf("serialize %s: %w", ext, err)
		}
		if err := os.WriteFile(filepath.Join(dir, fileName(k.Shape, ext)), buf.Bytes(), 0644); err != nil {
			return err
		}
	}
	return nil
}

// LoadKeys reads what Save wrote.
func LoadKeys(dir string, shape types.ProofShape, levels int) (*Keys, error) {
	k := &Keys{
		Shape:  shape,
		Levels: levels,
		CS:     groth16.NewCS(ecc.BN254),
		PK:     groth16.NewProvingKey(ecc.BN254),
	}
	for ext, obj := range map[string]io.ReaderFrom{
		"r1cs": k.CS,
		"pk":   k.PK,
	} {
		if err := readFile(filepath.Join(dir, fileName(shape, ext)), obj); err != nil {
			return nil, err
		}
	}
	vk, err := LoadVerifyingKey(dir, shape)
	if err != nil {
		return nil, err
	}
	k.VK = vk
	return k, nil
}

func LoadVerifyingKey(dir string, shape types.ProofShape) (groth16.VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if err := readFile(filepath.Join(dir, fileName(shape, "vk")), vk); err != nil {
		return nil, err
	}
	return vk, nil
}

func readFile(path string, obj io.ReaderFrom) error {
	bz, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if _, err := obj.ReadFrom(bytes.NewReader(bz)); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
