package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchnorrRoundTrip(t *testing.T) {
	sk, err := NewSecretKey()
	require.NoError(t, err)

	pk, err := PublicFromSecret(sk)
	require.NoError(t, err)
	require.Len(t, pk, PublicKeySize)

	msg := []byte("pay 3 LIG to bob")
	sig, err := SchnorrSign(sk, msg)
	require.NoError(t, err)
	require.Len(t, sig, SignatureSize)

	require.True(t, SchnorrVerify(pk, sig, msg))
}

func TestSchnorrVerifyRejectsWrongKey(t *testing.T) {
	sk, err := NewSecretKey()
	require.NoError(t, err)
	otherSK, err := NewSecretKey()
	require.NoError(t, err)
	otherPK, err := PublicFromSecret(otherSK)
	require.NoError(t, err)

	msg := []byte("pay 3 LIG to bob")
	sig, err := SchnorrSign(sk, msg)
	require.NoError(t, err)

	require.False(t, SchnorrVerify(otherPK, sig, msg))
}

func TestSchnorrVerifyRejectsTamperedMessage(t *testing.T) {
	sk, err := NewSecretKey()
	require.NoError(t, err)
	pk, err := PublicFromSecret(sk)
	require.NoError(t, err)

	sig, err := SchnorrSign(sk, []byte("pay 3 LIG to bob"))
	require.NoError(t, err)

	require.False(t, SchnorrVerify(pk, sig, []byte("pay 300 LIG to bob")))
}

func TestSchnorrVerifyRejectsMalformedInput(t *testing.T) {
	require.False(t, SchnorrVerify([]byte("short"), []byte("also-short"), []byte("msg")))
}

func TestPublicFromSecretRejectsWrongLength(t *testing.T) {
	_, err := PublicFromSecret([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidKeypair)
}
