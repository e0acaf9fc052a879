package crypto

import (
	crand "crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Encrypt(t *testing.T) {
	m := []byte("hello")

	sharedSecret := make([]byte, 32)
	n, err := crand.Read(sharedSecret)
	require.NoError(t, err)
	require.Equal(t, 32, n)

	saplingKDF, err := SaplingKDF(sharedSecret, 44)
	require.NoError(t, err)
	require.Equal(t, 44, len(saplingKDF))

	encKey := saplingKDF[:32]
	nonce := saplingKDF[32:44]

	enc, err := EncryptNote(encKey, nonce, m, []byte("adata"))
	require.NoError(t, err)

	dec, err := DecryptNote(encKey, nonce, enc, []byte("adata"))
	require.NoError(t, err)
	require.Equal(t, m, dec)

	_, err = DecryptNote(encKey, nonce, enc, []byte("other"))
	require.Error(t, err)
}

func TestSealOpen(t *testing.T) {
	bob := DeriveEncryptionKey([]byte("bob"))
	eve := DeriveEncryptionKey([]byte("eve"))

	sealed, err := Seal(&bob.Public, []byte("note plaintext"))
	require.NoError(t, err)

	pt, err := bob.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("note plaintext"), pt)

	_, err = eve.Open(sealed)
	require.Error(t, err)

	_, err = bob.Open(sealed[:10])
	require.Error(t, err)
}
