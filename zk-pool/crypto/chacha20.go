package crypto

import (
	"errors"
	"fmt"

	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	epkSize = 32
	kdfSize = chacha20poly1305.KeySize + chacha20poly1305.NonceSize
)

// EncryptNote encrypts the note plaintext using the ChaCha20-Poly1305 AEAD (Authenticated
// Encryption with Associated Data) scheme.
//
// Parameters:
//   - key: A 32-byte symmetric encryption key.
//   - nonce: A 12-byte nonce, which must be unique for each encryption with the same key.
//   - plaintext: The data to be encrypted (e.g., the serialized SecretNote).
//   - additionalData: Data to be authenticated but not encrypted, the ephemeral public key.
func EncryptNote(key, nonce, plaintext, additionalData []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("invalid key size: must be %d bytes", chacha20poly1305.KeySize)
	}
	if len(nonce) != chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("invalid nonce size: must be %d bytes", chacha20poly1305.NonceSize)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 AEAD: %w", err)
	}

	return aead.Seal(nil, nonce, plaintext, additionalData), nil
}

// DecryptNote decrypts the note ciphertext using ChaCha20-Poly1305.
func DecryptNote(key, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("invalid key size: must be %d bytes", chacha20poly1305.KeySize)
	}
	if len(nonce) != chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("invalid nonce size: must be %d bytes", chacha20poly1305.NonceSize)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 AEAD: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		// wrong key, or the ciphertext was not addressed to us
		return nil, fmt.Errorf("failed to decrypt note: %w", err)
	}
	return plaintext, nil
}

// Seal encrypts plaintext to the holder of recipient and returns
// [ephemeral public key | ciphertext].
func Seal(recipient *tedwards.PointAffine, plaintext []byte) ([]byte, error) {
	eph, err := GenerateEncryptionKey()
	if err != nil {
		return nil, err
	}
	shared, err := eph.ECDHEComputeSharedSecret(recipient)
	if err != nil {
		return nil, err
	}
	ks, err := SaplingKDF(shared, kdfSize)
	if err != nil {
		return nil, err
	}
	epk := eph.PublicBytes()
	ct, err := EncryptNote(ks[:chacha20poly1305.KeySize], ks[chacha20poly1305.KeySize:], plaintext, epk)
	if err != nil {
		return nil, err
	}
	return append(epk, ct...), nil
}

// Open reverses Seal with the recipient's key.
func (k *EncryptionKey) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < epkSize+chacha20poly1305.Overhead {
		return nil, errors.New("sealed note is too short")
	}
	epk, err := ParsePublicKey(sealed[:epkSize])
	if err != nil {
		return nil, err
	}
	shared, err := k.ECDHEComputeSharedSecret(epk)
	if err != nil {
		return nil, err
	}
	ks, err := SaplingKDF(shared, kdfSize)
	if err != nil {
		return nil, err
	}
	return DecryptNote(ks[:chacha20poly1305.KeySize], ks[chacha20poly1305.KeySize:], sealed[epkSize:], sealed[:epkSize])
}
