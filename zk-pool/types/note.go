package types

import (
	"fmt"
	"io"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/kysee/zkpool/utils"
	"github.com/kysee/zkpool/zk-pool/crypto"
)

const NoteVersion = 1

// Note is an unspent output. Only its commitment is ever published.
type Note struct {
	Version  byte
	Amount   *uint256.Int
	PubKey   fr.Element
	Blinding fr.Element

	// Index is the leaf position, known once the commitment is inserted.
	Index uint64
}

// NewNote creates a note of amount owned by pubKey with a fresh blinding.
func NewNote(amount *uint256.Int, pubKey fr.Element) (*Note, error) {
	if amount == nil || amount.Cmp(MaxAmount) >= 0 {
		return nil, fmt.Errorf("%w: note amount must be below 2^%d", ErrInvalidAmount, MaxAmountBits)
	}
	return &Note{
		Version:  NoteVersion,
		Amount:   new(uint256.Int).Set(amount),
		PubKey:   pubKey,
		Blinding: utils.RandomField(),
	}, nil
}

// NewZeroNote is the zero-value output used to pad a transaction to two outputs.
func NewZeroNote(pubKey fr.Element) *Note {
	n, _ := NewNote(uint256.NewInt(0), pubKey)
	return n
}

func (n *Note) IsZero() bool {
	return n.Amount.IsZero()
}

func (n *Note) AmountField() fr.Element {
	var e fr.Element
	bz := n.Amount.Bytes32()
	e.SetBytes(bz[:])
	return e
}

// Commitment = H(amount, pubKey, blinding).
func (n *Note) Commitment() fr.Element {
	return utils.HashElements(n.AmountField(), n.PubKey, n.Blinding)
}

// Nullifier = H(commitment, index, sign(commitment, index)). It needs the
// owner's private key, so kp must own the note.
func (n *Note) Nullifier(index uint64, kp *Keypair) (fr.Element, error) {
	if kp == nil || !kp.Owns(n) {
		return fr.Element{}, ErrUnauthorized
	}
	cm := n.Commitment()
	sig := kp.Sign(cm, index)
	return utils.HashElements(cm, utils.FieldFromUint64(index), sig), nil
}

func (n *Note) ToSecretNote() *SecretNote {
	bl := n.Blinding.Bytes()
	return &SecretNote{
		Version:  n.Version,
		Amount:   new(uint256.Int).Set(n.Amount),
		Blinding: bl[:],
	}
}

// Encrypt seals the note plaintext for the holder of to.
func (n *Note) Encrypt(to *ShieldedAddress) ([]byte, error) {
	return crypto.Seal(&to.EncKey, n.ToSecretNote().Bytes())
}

// SecretNote is the plaintext carried in an encrypted output, enough for the
// recipient to rebuild the note.
type SecretNote struct {
	Version  byte
	Amount   *uint256.Int
	Blinding []byte
}

// Bytes returns the RLP-encoded representation of the SecretNote as a byte slice.
// It panics if the encoding fails.
func (sn *SecretNote) Bytes() []byte {
	b, err := rlp.EncodeToBytes(sn)
	if err != nil {
		panic(fmt.Sprintf("failed to RLP encode SecretNote: %v", err))
	}
	return b
}

func (sn *SecretNote) SetBytes(bz []byte) error {
	return rlp.DecodeBytes(bz, sn)
}

// EncodeRLP implements rlp.Encoder.
func (sn *SecretNote) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, []interface{}{
		sn.Version,
		sn.Amount.ToBig(),
		sn.Blinding,
	})
}

// DecodeRLP implements rlp.Decoder.
func (sn *SecretNote) DecodeRLP(s *rlp.Stream) error {
	var temp struct {
		Version  byte
		Amount   *big.Int
		Blinding []byte
	}
	if err := s.Decode(&temp); err != nil {
		return err
	}

	amount, overflow := uint256.FromBig(temp.Amount)
	if overflow || amount.Cmp(MaxAmount) >= 0 {
		return fmt.Errorf("%w: note amount must be below 2^%d", ErrInvalidAmount, MaxAmountBits)
	}
	if len(temp.Blinding) != fr.Bytes {
		return fmt.Errorf("wrong blinding length: %d", len(temp.Blinding))
	}

	sn.Version = temp.Version
	sn.Amount = amount
	sn.Blinding = temp.Blinding
	return nil
}

// ToNoteOf rebuilds the note owned by pubKey.
func (sn *SecretNote) ToNoteOf(pubKey fr.Element) *Note {
	var bl fr.Element
	bl.SetBytes(sn.Blinding)
	return &Note{
		Version:  sn.Version,
		Amount:   new(uint256.Int).Set(sn.Amount),
		PubKey:   pubKey,
		Blinding: bl,
	}
}
