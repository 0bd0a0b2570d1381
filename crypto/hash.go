// Package crypto implements the hashing, checksum, and base58check primitives
// the rest of lightchain builds addresses and transaction/block identifiers
// on top of. All functions here are pure; none touch the chain store or the
// network.
package crypto

import (
	"bytes"
	"crypto/sha256"
	"math/big"

	"golang.org/x/crypto/ripemd160"
)

const (
	// AddressVersion is the single supported address version byte (spec §3).
	AddressVersion   = byte(0x00)
	checksumLen      = 4
	base58Alphabet   = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
)

// Sha256 returns the SHA-256 digest of data.
func Sha256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// DoubleSha256 hashes data twice with SHA-256, as used for address checksums.
func DoubleSha256(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:]
}

// Ripemd160 returns the RIPEMD-160 digest of data.
func Ripemd160(data []byte) []byte {
	hasher := ripemd160.New()
	// ripemd160.Hash.Write never returns an error.
	_, _ = hasher.Write(data)
	return hasher.Sum(nil)
}

// PubKeyHash computes RIPEMD160(SHA256(pubKey)), the 20-byte value locked
// into a TXOutput and encoded into an address (spec §4.1/§4.2).
func PubKeyHash(pubKey []byte) []byte {
	return Ripemd160(Sha256(pubKey))
}

// checksum returns the first 4 bytes of SHA256(SHA256(payload)).
func checksum(payload []byte) []byte {
	return DoubleSha256(payload)[:checksumLen]
}

// EncodeAddress builds a base58check address string from a public-key hash:
// base58(version ‖ pubKeyHash ‖ checksum(version ‖ pubKeyHash)).
func EncodeAddress(pubKeyHash []byte) string {
	versioned := append([]byte{AddressVersion}, pubKeyHash...)
	full := append(versioned, checksum(versioned)...)
	return string(Base58Encode(full))
}

// DecodeAddress recovers the public-key hash from a base58check address,
// recomputing and comparing the checksum. Returns ErrInvalidAddress on any
// corruption (spec §4.2).
func DecodeAddress(address string) ([]byte, error) {
	full := Base58Decode([]byte(address))
	if len(full) < 1+checksumLen {
		return nil, ErrInvalidAddress
	}
	version := full[0]
	pubKeyHash := full[1 : len(full)-checksumLen]
	wantChecksum := full[len(full)-checksumLen:]

	if version != AddressVersion {
		return nil, ErrInvalidAddress
	}
	gotChecksum := checksum(append([]byte{version}, pubKeyHash...))
	if !bytes.Equal(gotChecksum, wantChecksum) {
		return nil, ErrInvalidAddress
	}
	return pubKeyHash, nil
}

// ValidateAddress reports whether address decodes to a consistent checksum.
func ValidateAddress(address string) bool {
	_, err := DecodeAddress(address)
	return err == nil
}

// Base58Encode encodes input using the Bitcoin base58 alphabet, preserving
// leading zero bytes as leading '1' characters.
func Base58Encode(input []byte) []byte {
	var encoded []byte
	x := new(big.Int).SetBytes(input)
	base := big.NewInt(int64(len(base58Alphabet)))
	zero := big.NewInt(0)
	mod := new(big.Int)

	for x.Cmp(zero) != 0 {
		x.DivMod(x, base, mod)
		encoded = append(encoded, base58Alphabet[mod.Int64()])
	}
	reverse(encoded)

	for _, b := range input {
		if b != 0x00 {
			break
		}
		encoded = append([]byte{base58Alphabet[0]}, encoded...)
	}
	return encoded
}

// Base58Decode is the inverse of Base58Encode.
func Base58Decode(input []byte) []byte {
	result := new(big.Int)
	leadingZeros := 0
	for _, b := range input {
		if b != base58Alphabet[0] {
			break
		}
		leadingZeros++
	}

	for _, b := range input {
		charIndex := bytes.IndexByte([]byte(base58Alphabet), b)
		if charIndex < 0 {
			continue
		}
		result.Mul(result, big.NewInt(int64(len(base58Alphabet))))
		result.Add(result, big.NewInt(int64(charIndex)))
	}

	decoded := result.Bytes()
	return append(bytes.Repeat([]byte{0x00}, leadingZeros), decoded...)
}

func reverse(data []byte) {
	for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
		data[i], data[j] = data[j], data[i]
	}
}
