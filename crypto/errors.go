package crypto

import "errors"

// ErrInvalidAddress is returned when a base58check address fails checksum
// validation (spec §7: InvalidAddress).
var ErrInvalidAddress = errors.New("crypto: invalid address")

// ErrInvalidKeypair is returned when a secret key cannot be parsed or a
// public key cannot be derived from it (spec §7: InvalidKeypair).
var ErrInvalidKeypair = errors.New("crypto: invalid keypair")
