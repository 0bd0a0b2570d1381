// Grounded on network/pseudo_p2p.go's send: dial, write, close, evict
// dstAddr from the registry on failure. This version adds the
// ~1 second write deadline spec §4.10/§5 requires and returns errors
// instead of log.Panic-ing.
package p2p

import (
	"net"
	"time"

	"github.com/rs/zerolog"

	"lightchain/peer"
)

const dialTimeout = 1 * time.Second
const writeTimeout = 1 * time.Second

// Client sends outbound Package messages, evicting unreachable peers from
// registry.
type Client struct {
	registry *peer.Registry
	log      zerolog.Logger
}

// NewClient builds a Client that evicts failed peers from registry.
func NewClient(registry *peer.Registry, log zerolog.Logger) *Client {
	return &Client{registry: registry, log: log.With().Str("component", "p2p.client").Logger()}
}

// Send opens a fresh connection to addr, writes one framed Package, and
// closes the connection. On dial or write failure, addr is evicted from
// the peer registry.
func (c *Client) Send(addr string, pkg Package) error {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		c.log.Warn().Str("addr", addr).Err(err).Msg("peer unreachable, evicting")
		c.registry.Evict(addr)
		return ErrPeerConnectFailed
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.registry.Evict(addr)
		return err
	}
	if err := WriteFramed(conn, pkg); err != nil {
		c.log.Warn().Str("addr", addr).Err(err).Msg("write to peer failed, evicting")
		c.registry.Evict(addr)
		return err
	}
	return nil
}

// Broadcast sends pkg to every address in addrs, best-effort.
func (c *Client) Broadcast(addrs []string, pkg Package) {
	for _, addr := range addrs {
		if err := c.Send(addr, pkg); err != nil {
			c.log.Debug().Str("addr", addr).Err(err).Msg("broadcast send failed")
		}
	}
}
