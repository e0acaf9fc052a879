package types

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	tedwards "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"github.com/kysee/zkpool/zk-pool/crypto"
)

const (
	ver        = 0x01
	addrPrefix = "zp"
)

// ShieldedAddress is what a sender needs to pay a keypair: the owner public
// key for the commitment and the encryption key for the note ciphertext.
type ShieldedAddress struct {
	PubKey fr.Element
	EncKey tedwards.PointAffine
}

func EncodeAddress(payload []byte) string {
	return addrPrefix + base58.CheckEncode(payload, ver)
}

func DecodeAddress(addr string) ([]byte, error) {
	if !strings.HasPrefix(addr, addrPrefix) {
		if len(addr) < 2 {
			return nil, fmt.Errorf("wrong prefix: got(%s)", addr)
		}
		return nil, fmt.Errorf("wrong prefix: got(%s)", addr[:2])
	}
	bz, _ver, err := base58.CheckDecode(addr[2:])
	if err != nil {
		return nil, err
	}
	if _ver != ver {
		return nil, fmt.Errorf("wrong version: expected(%d), got(%d)", ver, _ver)
	}
	return bz, nil
}

func (a *ShieldedAddress) Bytes() []byte {
	pub := a.PubKey.Bytes()
	enc := a.EncKey.Bytes()
	return append(pub[:], enc[:]...)
}

func (a *ShieldedAddress) String() string {
	return EncodeAddress(a.Bytes())
}

func ParseAddress(addr string) (*ShieldedAddress, error) {
	bz, err := DecodeAddress(addr)
	if err != nil {
		return nil, err
	}
	if len(bz) != 2*fr.Bytes {
		return nil, fmt.Errorf("wrong address length: expected(%d), got(%d)", 2*fr.Bytes, len(bz))
	}
	var pub fr.Element
	if err := pub.SetBytesCanonical(bz[:fr.Bytes]); err != nil {
		return nil, fmt.Errorf("invalid owner key: %w", err)
	}
	enc, err := crypto.ParsePublicKey(bz[fr.Bytes:])
	if err != nil {
		return nil, err
	}
	return &ShieldedAddress{PubKey: pub, EncKey: *enc}, nil
}
