package crypto

import (
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// SecretKeySize and PublicKeySize match spec §3: a 32-byte secret key and a
// 33-byte compressed public key.
const (
	SecretKeySize   = 32
	PublicKeySize   = 33
	SignatureSize   = 64
)

// NewSecretKey draws a fresh secp256k1 secret key from a CSPRNG.
func NewSecretKey() ([]byte, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, ErrInvalidKeypair
	}
	return priv.Serialize(), nil
}

// PublicFromSecret derives the compressed public key for a secret key.
func PublicFromSecret(secretKey []byte) ([]byte, error) {
	if len(secretKey) != SecretKeySize {
		return nil, ErrInvalidKeypair
	}
	priv := secp256k1.PrivKeyFromBytes(secretKey)
	return priv.PubKey().SerializeCompressed(), nil
}

// SchnorrSign hashes msg with SHA-256 and produces a 64-byte Schnorr
// signature over the digest using secretKey (spec §4.1).
func SchnorrSign(secretKey, msg []byte) ([]byte, error) {
	if len(secretKey) != SecretKeySize {
		return nil, ErrInvalidKeypair
	}
	priv := secp256k1.PrivKeyFromBytes(secretKey)
	digest := sha256.Sum256(msg)

	sig, err := schnorr.Sign(priv, digest[:])
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// SchnorrVerify reports whether sig is a valid Schnorr signature over
// SHA-256(msg) under the compressed public key pubKey. Malformed keys or
// signatures yield false rather than an error (spec §4.1).
func SchnorrVerify(pubKey, sig, msg []byte) bool {
	if len(pubKey) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	pk, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	parsedSig, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(msg)
	return parsedSig.Verify(digest[:], pk)
}
