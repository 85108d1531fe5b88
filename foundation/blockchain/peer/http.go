package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/blockchain/header"
)

const baseURL = "http://%s/v1/node"

const (
	outboundQueueSize = 64
	requestTimeout    = 10 * time.Second
)

// ErrQueueFull is returned when a peer is not keeping up with the messages
// sent to it.
var ErrQueueFull = errors.New("outbound queue full")

// =============================================================================

// HelloMessage is sent by the dialing node and answered with the status of
// the remote node.
type HelloMessage struct {
	Status Status `json:"status"`
}

// DisconnectMessage tells a peer it is being dropped.
type DisconnectMessage struct {
	From   NodeID     `json:"from"`
	Reason ReasonCode `json:"reason"`
}

// NewBlockMessage carries a forged or relayed block.
type NewBlockMessage struct {
	From  NodeID             `json:"from"`
	Block database.BlockData `json:"block"`
}

// NewTxsMessage carries transactions not yet in a block.
type NewTxsMessage struct {
	From  NodeID              `json:"from"`
	Trans []database.SignedTx `json:"trans"`
}

// BlocksRequest asks for the bodies of the listed blocks.
type BlocksRequest struct {
	Hashes []header.Hash `json:"hashes"`
}

// =============================================================================

// HTTPChannelConfig represents what is needed to talk to one peer.
type HTTPChannelConfig struct {
	Self      NodeID
	Host      string
	RemoteIP  string
	Inbound   bool
	Client    *http.Client
	OnClosed  func(ch *HTTPChannel)
	EvHandler EventHandler
}

// message is one queued request to the peer.
type message struct {
	path string
	data any
	last bool
}

// HTTPChannel talks to the private API of a peer node. Sends are queued and
// delivered in order by the channel's own goroutine.
type HTTPChannel struct {
	self      NodeID
	host      string
	remoteIP  string
	inbound   bool
	client    *http.Client
	onClosed  func(ch *HTTPChannel)
	evHandler EventHandler

	mu       sync.RWMutex
	state    HandshakeState
	status   Status
	syncDone bool

	outbound  chan message
	shut      chan struct{}
	closeOnce sync.Once
}

// NewHTTPChannel constructs a channel and starts its send goroutine.
func NewHTTPChannel(cfg HTTPChannelConfig) *HTTPChannel {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	ch := HTTPChannel{
		self:      cfg.Self,
		host:      cfg.Host,
		remoteIP:  cfg.RemoteIP,
		inbound:   cfg.Inbound,
		client:    client,
		onClosed:  cfg.OnClosed,
		evHandler: ev,
		outbound:  make(chan message, outboundQueueSize),
		shut:      make(chan struct{}),
	}

	go ch.sendOperations()

	return &ch
}

// NodeID returns the id the peer gave in its status, which is empty until
// the handshake completes.
func (ch *HTTPChannel) NodeID() NodeID {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	return ch.status.NodeID
}

// Host returns the address of the peer's private API.
func (ch *HTTPChannel) Host() string {
	return ch.host
}

// RemoteIP returns the ip the peer connects from.
func (ch *HTTPChannel) RemoteIP() string {
	return ch.remoteIP
}

// Inbound reports whether the peer dialed this node.
func (ch *HTTPChannel) Inbound() bool {
	return ch.inbound
}

// HandshakeState returns how far the handshake has progressed.
func (ch *HTTPChannel) HandshakeState() HandshakeState {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	return ch.state
}

// Status returns the last known status of the peer.
func (ch *HTTPChannel) Status() Status {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	return ch.status
}

// IsSyncDone reports whether OnSyncDone has been called.
func (ch *HTTPChannel) IsSyncDone() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	return ch.syncDone
}

// UpdateHead records a block the peer sent as its latest.
func (ch *HTTPChannel) UpdateHead(block database.Block) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.status.CumulativeDifficulty != nil && block.CumulativeDifficulty.Cmp(ch.status.CumulativeDifficulty) <= 0 {
		return
	}

	ch.status.LatestHash = block.Hash()
	ch.status.LatestNumber = block.Number
	ch.status.CumulativeDifficulty = block.CumulativeDifficulty
}

// =============================================================================

// Handshake sends the local status to the peer and checks the status it
// answers with. Used by the dialing side.
func (ch *HTTPChannel) Handshake(ctx context.Context, local Status) error {
	url := fmt.Sprintf("%s/peer/hello", fmt.Sprintf(baseURL, ch.host))

	var remote Status
	if err := send(ctx, ch.client, http.MethodPost, url, HelloMessage{Status: local}, &remote); err != nil {
		ch.mu.Lock()
		ch.state = HandshakeFailed
		ch.mu.Unlock()
		return err
	}

	return ch.Establish(local, remote)
}

// Establish records the remote status and completes the handshake. Used
// directly by the side receiving the hello.
func (ch *HTTPChannel) Establish(local Status, remote Status) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.state = HandshakeProtocols
	ch.status = remote

	if err := local.Compatible(remote); err != nil {
		ch.state = HandshakeFailed
		return fmt.Errorf("handshake: %w", err)
	}

	if remote.NodeID == local.NodeID {
		ch.state = HandshakeFailed
		return errors.New("handshake: connected to self")
	}

	ch.state = HandshakeStatusOK
	return nil
}

// =============================================================================

// SendTransactions queues the transactions for the peer.
func (ch *HTTPChannel) SendTransactions(txs []database.SignedTx) error {
	return ch.enqueue(message{
		path: "tx/new",
		data: NewTxsMessage{From: ch.self, Trans: txs},
	})
}

// SendNewBlock queues the block for the peer.
func (ch *HTTPChannel) SendNewBlock(block database.Block) error {
	return ch.enqueue(message{
		path: "block/new",
		data: NewBlockMessage{From: ch.self, Block: database.NewBlockData(block)},
	})
}

// Disconnect tells the peer it is dropped and closes the channel once the
// message is out.
func (ch *HTTPChannel) Disconnect(reason ReasonCode) {
	msg := message{
		path: "peer/disconnect",
		data: DisconnectMessage{From: ch.self, Reason: reason},
		last: true,
	}

	if err := ch.enqueue(msg); err != nil {
		ch.close(true)
	}
}

// OnSyncDone records that the node has caught up.
func (ch *HTTPChannel) OnSyncDone() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.syncDone = true
}

// OnDisconnect stops the send goroutine. Queued messages are dropped.
func (ch *HTTPChannel) OnDisconnect() {
	ch.close(false)
}

// =============================================================================

// RequestStatus asks the peer for its current status.
func (ch *HTTPChannel) RequestStatus(ctx context.Context) (Status, error) {
	url := fmt.Sprintf("%s/status", fmt.Sprintf(baseURL, ch.host))

	var status Status
	if err := send(ctx, ch.client, http.MethodGet, url, nil, &status); err != nil {
		return Status{}, err
	}

	ch.mu.Lock()
	ch.status.LatestHash = status.LatestHash
	ch.status.LatestNumber = status.LatestNumber
	ch.status.CumulativeDifficulty = status.CumulativeDifficulty
	ch.mu.Unlock()

	return status, nil
}

// RequestBlockHashes asks the peer for up to limit hashes starting at from and
// walking to its parents.
func (ch *HTTPChannel) RequestBlockHashes(ctx context.Context, from header.Hash, limit int) ([]header.Hash, error) {
	url := fmt.Sprintf("%s/block/hashes/%s/%d", fmt.Sprintf(baseURL, ch.host), from, limit)

	var hashes []header.Hash
	if err := send(ctx, ch.client, http.MethodGet, url, nil, &hashes); err != nil {
		return nil, err
	}

	return hashes, nil
}

// RequestBlocks asks the peer for the blocks with the listed hashes.
func (ch *HTTPChannel) RequestBlocks(ctx context.Context, hashes []header.Hash) ([]database.Block, error) {
	url := fmt.Sprintf("%s/block/list", fmt.Sprintf(baseURL, ch.host))

	var data []database.BlockData
	if err := send(ctx, ch.client, http.MethodPost, url, BlocksRequest{Hashes: hashes}, &data); err != nil {
		return nil, err
	}

	blocks := make([]database.Block, len(data))
	for i, bd := range data {
		block, err := database.ToBlock(bd)
		if err != nil {
			return nil, err
		}
		blocks[i] = block
	}

	return blocks, nil
}

// =============================================================================

// enqueue adds a message without blocking the caller.
func (ch *HTTPChannel) enqueue(msg message) error {
	select {
	case <-ch.shut:
		return errors.New("channel closed")
	default:
	}

	select {
	case ch.outbound <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// sendOperations delivers queued messages until the channel is closed. A
// failed delivery closes the channel.
func (ch *HTTPChannel) sendOperations() {
	for {
		select {
		case msg := <-ch.outbound:
			url := fmt.Sprintf("%s/%s", fmt.Sprintf(baseURL, ch.host), msg.path)

			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			err := send(ctx, ch.client, http.MethodPost, url, msg.data, nil)
			cancel()

			if err != nil {
				ch.evHandler("peer: send: host[%s] path[%s]: ERROR: %s", ch.host, msg.path, err)
				ch.close(true)
				return
			}

			if msg.last {
				ch.close(true)
				return
			}

		case <-ch.shut:
			return
		}
	}
}

// close stops the channel once. When notify is set the owner is told on a
// separate goroutine so the caller never waits on it.
func (ch *HTTPChannel) close(notify bool) {
	ch.closeOnce.Do(func() {
		close(ch.shut)
		if notify && ch.onClosed != nil {
			go ch.onClosed(ch)
		}
	})
}

// send is a helper function to send an HTTP request to a node.
func send(ctx context.Context, client *http.Client, method string, url string, dataSend any, dataRecv any) error {
	var body io.Reader
	if dataSend != nil {
		data, err := json.Marshal(dataSend)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		msg, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}

	if dataRecv != nil {
		if err := json.NewDecoder(resp.Body).Decode(dataRecv); err != nil {
			return err
		}
	}

	return nil
}
