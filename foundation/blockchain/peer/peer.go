// Package peer maintains the set of connected peers and fans new blocks and
// transactions out to them.
package peer

import (
	"fmt"
	"math/big"

	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/blockchain/header"
)

// NodeID identifies a node on the network. It is the hex encoding of the
// node's compressed public key.
type NodeID string

// =============================================================================

// ReasonCode is sent to a peer when it is disconnected.
type ReasonCode uint8

// Set of disconnect reasons.
const (
	ReasonRequested            ReasonCode = 0x00
	ReasonTCPError             ReasonCode = 0x01
	ReasonBadProtocol          ReasonCode = 0x02
	ReasonUselessPeer          ReasonCode = 0x03
	ReasonTooManyPeers         ReasonCode = 0x04
	ReasonDuplicatePeer        ReasonCode = 0x05
	ReasonIncompatibleProtocol ReasonCode = 0x06
	ReasonNullIdentity         ReasonCode = 0x07
	ReasonPeerQuitting         ReasonCode = 0x08
	ReasonUnexpectedIdentity   ReasonCode = 0x09
	ReasonLocalIdentity        ReasonCode = 0x0a
	ReasonPingTimeout          ReasonCode = 0x0b
	ReasonUserReason           ReasonCode = 0x10
)

var reasonNames = map[ReasonCode]string{
	ReasonRequested:            "requested",
	ReasonTCPError:             "tcp error",
	ReasonBadProtocol:          "bad protocol",
	ReasonUselessPeer:          "useless peer",
	ReasonTooManyPeers:         "too many peers",
	ReasonDuplicatePeer:        "duplicate peer",
	ReasonIncompatibleProtocol: "incompatible protocol",
	ReasonNullIdentity:         "null identity",
	ReasonPeerQuitting:         "peer quitting",
	ReasonUnexpectedIdentity:   "unexpected identity",
	ReasonLocalIdentity:        "local identity",
	ReasonPingTimeout:          "ping timeout",
	ReasonUserReason:           "user reason",
}

// String implements the fmt.Stringer interface.
func (r ReasonCode) String() string {
	if name, exists := reasonNames[r]; exists {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", uint8(r))
}

// =============================================================================

// HandshakeState tracks how far the handshake with a peer has progressed.
type HandshakeState int

// Set of handshake states.
const (
	HandshakePending HandshakeState = iota
	HandshakeProtocols
	HandshakeStatusOK
	HandshakeFailed
)

// ProtocolsInitialized reports whether the peer has finished negotiating
// protocols, successfully or not. Only such peers are considered for
// admission.
func (h HandshakeState) ProtocolsInitialized() bool {
	return h != HandshakePending
}

// StatusSucceeded reports whether the status exchange accepted the peer.
func (h HandshakeState) StatusSucceeded() bool {
	return h == HandshakeStatusOK
}

// =============================================================================

// Status is what two nodes tell each other during the handshake.
type Status struct {
	NodeID               NodeID      `json:"node_id"`
	Host                 string      `json:"host"`
	ChainID              uint16      `json:"chain_id"`
	GenesisHash          header.Hash `json:"genesis_hash"`
	LatestHash           header.Hash `json:"latest_hash"`
	LatestNumber         uint64      `json:"latest_number"`
	CumulativeDifficulty *big.Int    `json:"cumulative_difficulty"`
	KnownHosts           []string    `json:"known_hosts,omitempty"`
}

// Compatible reports whether the remote status belongs to the same chain.
func (s Status) Compatible(remote Status) error {
	if s.ChainID != remote.ChainID {
		return fmt.Errorf("chain id %d, expected %d", remote.ChainID, s.ChainID)
	}
	if s.GenesisHash != remote.GenesisHash {
		return fmt.Errorf("genesis %s, expected %s", remote.GenesisHash, s.GenesisHash)
	}
	if remote.NodeID == "" {
		return fmt.Errorf("missing node id")
	}
	return nil
}

// =============================================================================

// Channel is a connection to one peer.
type Channel interface {
	NodeID() NodeID
	RemoteIP() string
	Inbound() bool
	HandshakeState() HandshakeState
	Status() Status

	SendTransactions(txs []database.SignedTx) error
	SendNewBlock(block database.Block) error
	Disconnect(reason ReasonCode)

	// OnSyncDone is called once the node has caught up with the network.
	OnSyncDone()

	// OnDisconnect is called after the registry has forgotten the channel.
	OnDisconnect()
}

// SyncManager is told about the peers the registry accepts and loses.
type SyncManager interface {
	AddPeer(ch Channel)
	OnDisconnect(ch Channel)
	IsSyncDone() bool
}

// PendingState provides the transactions flooded to new peers.
type PendingState interface {
	PendingTransactions() []database.SignedTx
}
