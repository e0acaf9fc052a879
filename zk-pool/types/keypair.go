package types

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/crypto"
)

// Keypair owns every note whose commitment references PublicKey.
type Keypair struct {
	PrivateKey fr.Element
	PublicKey  fr.Element
	encKey     *crypto.EncryptionKey
}

func NewKeypair() *Keypair {
	return KeypairFromPrivateKey(utils.RandomField())
}

// KeypairFromPrivateKey rebuilds a keypair. PublicKey = H(PrivateKey) and the
// encryption key is derived from the private key as well.
func KeypairFromPrivateKey(prv fr.Element) *Keypair {
	bz := prv.Bytes()
	return &Keypair{
		PrivateKey: prv,
		PublicKey:  utils.HashElements(prv),
		encKey:     crypto.DeriveEncryptionKey(bz[:]),
	}
}

// Sign binds the private key to a note position: H(privateKey, commitment, index).
func (kp *Keypair) Sign(commitment fr.Element, index uint64) fr.Element {
	return utils.HashElements(kp.PrivateKey, commitment, utils.FieldFromUint64(index))
}

func (kp *Keypair) Owns(n *Note) bool {
	return kp.PublicKey.Equal(&n.PubKey)
}

func (kp *Keypair) ShieldedAddress() *ShieldedAddress {
	return &ShieldedAddress{
		PubKey: kp.PublicKey,
		EncKey: kp.encKey.Public,
	}
}

func (kp *Keypair) Address() string {
	return kp.ShieldedAddress().String()
}

// DecryptNote opens an encrypted output and returns the note it carries,
// owned by kp. It fails when the ciphertext was addressed to someone else.
func (kp *Keypair) DecryptNote(sealed []byte) (*Note, error) {
	pt, err := kp.encKey.Open(sealed)
	if err != nil {
		return nil, err
	}
	sn := new(SecretNote)
	if err := sn.SetBytes(pt); err != nil {
		return nil, fmt.Errorf("malformed secret note: %w", err)
	}
	return sn.ToNoteOf(kp.PublicKey), nil
}
