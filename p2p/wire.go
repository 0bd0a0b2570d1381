// Grounded on network/pseudo_p2p.go's wire types (sVersion, sAddr,
// sInventory, sGetBlocks, sGetData, sBlock, sTx): same variant set,
// same sender-address convention. Two changes per spec §6: the envelope is
// a single tagged-union JSON struct instead of a 12-byte gob command prefix
// plus a per-command gob payload, and every inbound connection is framed
// with a 4-byte length prefix so it can carry more than one message.
package p2p

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// PackageType tags the variant carried by a Package (spec §6).
type PackageType string

const (
	PkgVersion        PackageType = "Version"
	PkgGetBlocks      PackageType = "GetBlocks"
	PkgInv            PackageType = "Inv"
	PkgGetData        PackageType = "GetData"
	PkgBlock          PackageType = "Block"
	PkgTx             PackageType = "Tx"
	PkgSendBitCoin    PackageType = "SendBitCoin"
	PkgKnownNodes     PackageType = "KnownNodes"
	PkgMessage        PackageType = "Message"
	PkgAdminNodeQuery PackageType = "AdminNodeQuery"
)

// OpType distinguishes block inventory from transaction inventory in Inv
// and GetData (spec §6).
type OpType string

const (
	OpBlock OpType = "Block"
	OpTx    OpType = "Tx"
)

// MessageType tags a Message reply, carried over from
// original_source/src/server.rs's MessageType enum.
type MessageType string

const (
	MsgError   MessageType = "Error"
	MsgSuccess MessageType = "Success"
	MsgInfo    MessageType = "Info"
	MsgWarning MessageType = "Warning"
	MsgAck     MessageType = "Ack"
)

// AdminQueryType tags an AdminNodeQuery variant (spec §6).
type AdminQueryType string

const (
	AdminGetBalance          AdminQueryType = "GetBalance"
	AdminGetAllTransactions  AdminQueryType = "GetAllTransactions"
	AdminGetBlockHeight      AdminQueryType = "GetBlockHeight"
	AdminMineEmptyBlock      AdminQueryType = "MineEmptyBlock"
	AdminReindexUtxo         AdminQueryType = "ReindexUtxo"
)

// Package is the single wire envelope for every message variant (spec §6).
// Unused fields are omitted from the JSON encoding by variant.
type Package struct {
	Type PackageType `json:"type"`

	AddrFrom string `json:"addr_from,omitempty"`

	Version    uint64 `json:"version,omitempty"`
	BestHeight uint64 `json:"best_height,omitempty"`

	OpType OpType   `json:"op_type,omitempty"`
	Items  [][]byte `json:"items,omitempty"`
	ID     []byte   `json:"id,omitempty"`

	Block       []byte `json:"block,omitempty"`
	Transaction []byte `json:"transaction,omitempty"`

	WalletFromAddr string `json:"wallet_from_addr,omitempty"`
	WalletToAddr   string `json:"wallet_to_addr,omitempty"`
	Amount         int64  `json:"amount,omitempty"`

	Nodes []string `json:"nodes,omitempty"`

	MessageType MessageType `json:"message_type,omitempty"`
	Message     string      `json:"message,omitempty"`

	QueryType AdminQueryType `json:"query_type,omitempty"`
	QueryAddr string         `json:"query_addr,omitempty"`
}

// maxFrameSize bounds a single message to 64MiB, generous for any block
// this node will ever mine, guarding against a peer sending a bogus length
// prefix that would otherwise exhaust memory.
const maxFrameSize = 64 << 20

// WriteFramed writes pkg as length-prefixed JSON to w.
func WriteFramed(w io.Writer, pkg Package) error {
	body, err := json.Marshal(pkg)
	if err != nil {
		return err
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadFramed reads one length-prefixed JSON Package from r.
func ReadFramed(r io.Reader) (Package, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Package{}, err
	}
	size := binary.BigEndian.Uint32(lenPrefix[:])
	if size > maxFrameSize {
		return Package{}, fmt.Errorf("p2p: frame of %d bytes exceeds limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Package{}, err
	}
	var pkg Package
	if err := json.Unmarshal(body, &pkg); err != nil {
		return Package{}, ErrMessageDecodeFailed
	}
	return pkg, nil
}
