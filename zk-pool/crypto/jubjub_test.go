package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveEncryptionKey(t *testing.T) {
	k0 := DeriveEncryptionKey([]byte("seed"))
	k1 := DeriveEncryptionKey([]byte("seed"))
	require.True(t, k0.Public.IsOnCurve())
	require.Equal(t, k0.PublicBytes(), k1.PublicBytes())

	k2 := DeriveEncryptionKey([]byte("other seed"))
	require.NotEqual(t, k0.PublicBytes(), k2.PublicBytes())

	p, err := ParsePublicKey(k0.PublicBytes())
	require.NoError(t, err)
	require.True(t, p.Equal(&k0.Public))
}

func TestECDHESharedSecret(t *testing.T) {
	alice, err := GenerateEncryptionKey()
	require.NoError(t, err)
	bob, err := GenerateEncryptionKey()
	require.NoError(t, err)

	sharedAlice, err := alice.ECDHEComputeSharedSecret(&bob.Public)
	require.NoError(t, err)
	sharedBob, err := bob.ECDHEComputeSharedSecret(&alice.Public)
	require.NoError(t, err)
	require.Equal(t, sharedAlice, sharedBob, "Shared secrets do not match")

	saplingKeyAlice, err := SaplingKDF(sharedAlice, 44)
	require.NoError(t, err)
	saplingKeyBob, err := SaplingKDF(sharedBob, 44)
	require.NoError(t, err)
	require.Equal(t, saplingKeyAlice, saplingKeyBob, "sapling key do not match")
}

func BenchmarkECDHESharedSecret(b *testing.B) {
	alice, err := GenerateEncryptionKey()
	require.NoError(b, err)
	bob, err := GenerateEncryptionKey()
	require.NoError(b, err)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := alice.ECDHEComputeSharedSecret(&bob.Public)
		require.NoError(b, err)
	}
}
