// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/taucoin/taunode/business/web/errs"
	"github.com/taucoin/taunode/foundation/blockchain/chainsync"
	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/blockchain/header"
	"github.com/taucoin/taunode/foundation/blockchain/peer"
	"github.com/taucoin/taunode/foundation/blockchain/state"
	"github.com/taucoin/taunode/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log      *zap.SugaredLogger
	State    *state.State
	Registry *peer.Registry
	Client   *http.Client
	Ev       state.EventHandler
}

// Hello answers the handshake of a dialing node. The dialer becomes an
// inbound peer once the registry admits it.
func (h Handlers) Hello(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var msg peer.HelloMessage
	if err := web.Decode(r, &msg); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("remote address: %w", err), http.StatusBadRequest)
	}

	if h.Registry.IsRecentlyDisconnected(ip) {
		return errs.NewTrusted(fmt.Errorf("ip %s recently disconnected", ip), http.StatusForbidden)
	}

	ch := peer.NewHTTPChannel(peer.HTTPChannelConfig{
		Self:     h.State.NodeID(),
		Host:     msg.Status.Host,
		RemoteIP: ip,
		Inbound:  true,
		Client:   h.Client,
		OnClosed: func(ch *peer.HTTPChannel) {
			h.Registry.NotifyDisconnect(ch)
		},
		EvHandler: peer.EventHandler(h.Ev),
	})

	local := h.State.Status()
	if err := ch.Establish(local, msg.Status); err != nil {
		ch.OnDisconnect()
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if msg.Status.Host != "" {
		h.State.KnownHosts().Add(msg.Status.Host)
	}
	for _, host := range msg.Status.KnownHosts {
		h.State.KnownHosts().Add(host)
	}

	h.Registry.Add(ch)

	return web.Respond(ctx, w, local, http.StatusOK)
}

// Disconnect handles a peer telling this node it dropped the connection.
func (h Handlers) Disconnect(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var msg peer.DisconnectMessage
	if err := web.Decode(r, &msg); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	h.Log.Infow("peer disconnect", "traceid", web.GetTraceID(ctx), "from", msg.From, "reason", msg.Reason)

	// The peer dropped its duplicate channel, the active one stays.
	if msg.Reason == peer.ReasonDuplicatePeer {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	if ch := h.Registry.ActivePeer(msg.From); ch != nil {
		h.Registry.NotifyDisconnect(ch)
	}

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// NewBlock takes a block received from a peer, validates it and if that
// passes, adds the block to the local blockchain and passes it on.
func (h Handlers) NewBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var msg peer.NewBlockMessage
	if err := web.Decode(r, &msg); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	block, err := database.ToBlock(msg.Block)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode block: %w", err), http.StatusBadRequest)
	}

	// The sender's head is at least this block, which the sync manager uses
	// to pick whom to sync from.
	if ch, ok := h.Registry.ActivePeer(msg.From).(*peer.HTTPChannel); ok {
		ch.UpdateHead(block)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "accepted",
	}

	err = h.State.ProcessProposedBlock(block)
	switch {
	case err == nil:
		h.Registry.OnNewForeignBlock(block, msg.From)

	case errors.Is(err, state.ErrKnownBlock):
		resp.Status = "known"

	case errors.Is(err, state.ErrUnknownParent):
		resp.Status = "parent unknown"

	default:
		return errs.NewTrusted(fmt.Errorf("block not accepted: %w", err), http.StatusNotAcceptable)
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// NewTransactions adds transactions flooded by a peer to the mempool.
func (h Handlers) NewTransactions(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var msg peer.NewTxsMessage
	if err := web.Decode(r, &msg); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if len(msg.Trans) > peer.MaxTxsPerMessage {
		return errs.NewTrusted(fmt.Errorf("too many transactions: %d", len(msg.Trans)), http.StatusBadRequest)
	}

	// Rejected transactions are logged only. A peer relaying a stale
	// transaction is not misbehaving.
	accepted, err := h.State.SubmitPeerTransactions(msg.Trans, msg.From)
	if err != nil {
		h.Log.Infow("peer trans", "traceid", web.GetTraceID(ctx), "from", msg.From, "rejected", err)
	}

	resp := struct {
		Accepted int `json:"accepted"`
	}{
		Accepted: accepted,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// BlockHashes returns up to max hashes starting at the specified block and
// walking to its parents.
func (h Handlers) BlockHashes(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, err := header.ToHash(web.Param(r, "hash"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	limit, err := strconv.Atoi(web.Param(r, "max"))
	if err != nil || limit <= 0 {
		return errs.NewTrusted(fmt.Errorf("invalid max %q", web.Param(r, "max")), http.StatusBadRequest)
	}
	limit = min(limit, chainsync.MaxHashesAsk)

	hashes, err := h.State.QueryAncestorHashes(hash, limit)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return errs.NewTrusted(err, http.StatusNotFound)
		}
		return err
	}

	return web.Respond(ctx, w, hashes, http.StatusOK)
}

// BlocksByHash returns the stored blocks for the requested hashes.
func (h Handlers) BlocksByHash(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req peer.BlocksRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if len(req.Hashes) > chainsync.MaxBlocksAsk {
		return errs.NewTrusted(fmt.Errorf("too many hashes: %d", len(req.Hashes)), http.StatusBadRequest)
	}

	blocks := h.State.QueryBlocksByHash(req.Hashes)

	blockData := make([]database.BlockData, len(blocks))
	for i, block := range blocks {
		blockData[i] = database.NewBlockData(block)
	}

	return web.Respond(ctx, w, blockData, http.StatusOK)
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Status(), http.StatusOK)
}
