package utils

import (
	"hash"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// FieldSize is the order of the BN254 scalar field every commitment,
	// nullifier and tree node lives in.
	FieldSize = fr.Modulus()

	// ZeroValue fills empty leaves: keccak256("tornado") mod FieldSize.
	ZeroValue = FieldFromBytes(crypto.Keccak256([]byte("tornado")))
)

func MiMCHasher() hash.Hash {
	return mimc.NewMiMC()
}

// HashElements is the protocol hash. Every element is written as its 32-byte
// canonical big-endian encoding, matching std/hash/mimc inside the circuit.
func HashElements(ins ...fr.Element) fr.Element {
	hasher := MiMCHasher()
	for i := range ins {
		bz := ins[i].Bytes()
		if _, err := hasher.Write(bz[:]); err != nil {
			panic(err)
		}
	}
	var out fr.Element
	out.SetBytes(hasher.Sum(nil))
	return out
}

// Hash2 is the arity-2 node hash of the commitment tree.
func Hash2(left, right fr.Element) fr.Element {
	return HashElements(left, right)
}

// MiMCHash hashes arbitrary byte strings, reducing every full block into the
// field first so that oversized inputs never make the hasher fail.
func MiMCHash(ins ...[]byte) []byte {
	hasher := MiMCHasher()

	blockSize := hasher.BlockSize()

	hasher.Reset()
	for _, in := range ins {

		for i := 0; i < len(in); i += blockSize {
			end := i + blockSize
			if end > len(in) {
				end = len(in)
			}
			chunk := in[i:end]

			// this value may be greater than the modulus; convert to fr.Element
			var elem fr.Element
			elem.SetBytes(chunk)
			// canonical form
			canon := elem.Bytes()
			if _, err := hasher.Write(canon[:]); err != nil {
				panic(err)
			}
		}
	}
	return hasher.Sum(nil)
}

func FieldFromBytes(bz []byte) fr.Element {
	var e fr.Element
	e.SetBytes(bz)
	return e
}

func FieldFromUint64(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

// FieldFromBig maps a signed integer into the field: negative values wrap to
// FieldSize - |v|.
func FieldFromBig(v *big.Int) fr.Element {
	m := new(big.Int).Mod(v, FieldSize)
	var e fr.Element
	e.SetBigInt(m)
	return e
}

func FieldToBig(e fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}

// RandomField returns a uniformly random field element.
func RandomField() fr.Element {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		panic(err)
	}
	return e
}
