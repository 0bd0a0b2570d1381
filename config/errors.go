package config

import "errors"

// ErrNodeAddrRequired is returned by Load when NODE_ADDR is unset: the
// orchestrator has no socket to bind without it.
var ErrNodeAddrRequired = errors.New("config: NODE_ADDR is required")
