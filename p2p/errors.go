package p2p

import "errors"

// Error kinds from spec §7 scoped to the wire/transport layer.
var (
	ErrPeerConnectFailed   = errors.New("p2p: peer connect failed")
	ErrMessageDecodeFailed = errors.New("p2p: message decode failed")
)
