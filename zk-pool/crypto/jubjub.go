package crypto

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/big"

	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"golang.org/x/crypto/blake2s"
)

// EncryptionKey is a scalar on the BN254 embedded twisted Edwards curve used
// for note encryption. It is unrelated to the spending key.
type EncryptionKey struct {
	scalar *big.Int
	Public tedwards.PointAffine
}

// DeriveEncryptionKey derives the encryption key deterministically from seed,
// so a wallet restored from its spending key can still read its notes.
func DeriveEncryptionKey(seed []byte) *EncryptionKey {
	h, _ := blake2s.New256([]byte("zkpool_enc_key"))
	h.Write(seed)
	return newEncryptionKey(new(big.Int).SetBytes(h.Sum(nil)))
}

// GenerateEncryptionKey returns a fresh random key, used as the ephemeral key
// of every sealed note.
func GenerateEncryptionKey() (*EncryptionKey, error) {
	curve := tedwards.GetEdwardsCurve()
	s, err := crand.Int(crand.Reader, &curve.Order)
	if err != nil {
		return nil, err
	}
	if s.Sign() == 0 {
		s.SetUint64(1)
	}
	return newEncryptionKey(s), nil
}

func newEncryptionKey(s *big.Int) *EncryptionKey {
	curve := tedwards.GetEdwardsCurve()
	s.Mod(s, &curve.Order)
	if s.Sign() == 0 {
		s.SetUint64(1)
	}
	k := &EncryptionKey{scalar: s}
	k.Public.ScalarMultiplication(&curve.Base, s)
	return k
}

// PublicBytes returns the compressed public point.
func (k *EncryptionKey) PublicBytes() []byte {
	bz := k.Public.Bytes()
	return bz[:]
}

// ParsePublicKey decodes a compressed point and checks it lies on the curve.
func ParsePublicKey(bz []byte) (*tedwards.PointAffine, error) {
	var p tedwards.PointAffine
	if _, err := p.SetBytes(bz); err != nil {
		return nil, fmt.Errorf("invalid encryption public key: %w", err)
	}
	if !p.IsOnCurve() {
		return nil, errors.New("encryption public key is not on curve")
	}
	return &p, nil
}

// ECDHEComputeSharedSecret computes the ECDHE shared secret
// sharedSecret = blake2s(x(scalar * otherPublicKey))
func (k *EncryptionKey) ECDHEComputeSharedSecret(otherPublicKey *tedwards.PointAffine) ([]byte, error) {
	if !otherPublicKey.IsOnCurve() {
		return nil, errors.New("other public key is not on curve")
	}

	var sharedSecret tedwards.PointAffine
	sharedSecret.ScalarMultiplication(otherPublicKey, k.scalar)

	if !sharedSecret.IsOnCurve() {
		return nil, errors.New("computed shared secret is not on curve")
	}

	hasher, err := blake2s.New256(nil)
	if err != nil {
		return nil, err
	}
	ax := sharedSecret.X.Bytes()
	hasher.Write(ax[:])
	return hasher.Sum(nil), nil
}

// SaplingKDF derives a key stream of a specified length from a shared secret using BLAKE2s.
// This function follows the PRF^expand logic, similar to HKDF-Expand (RFC 5869).
func SaplingKDF(sharedSecret []byte, outputLen int) ([]byte, error) {
	if len(sharedSecret) != 32 {
		return nil, fmt.Errorf("sharedSecret must be 32 bytes")
	}

	personalization := []byte("Zcash_ExpandSeed")

	var keyStream []byte
	var counter byte = 1 // The counter must start at 1.
	for len(keyStream) < outputLen {
		h, err := blake2s.New256(personalization)
		if err != nil {
			return nil, fmt.Errorf("failed to create blake2s hash: %w", err)
		}
		h.Write(sharedSecret)
		h.Write([]byte{counter})

		keyStream = append(keyStream, h.Sum(nil)...)

		counter++
		if counter == 0 {
			return nil, errors.New("KDF counter overflow")
		}
	}

	return keyStream[:outputLen], nil
}
