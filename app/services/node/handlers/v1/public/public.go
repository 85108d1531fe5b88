// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/taucoin/taunode/business/web/errs"
	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/blockchain/state"
	"github.com/taucoin/taunode/foundation/events"
	"github.com/taucoin/taunode/foundation/nameservice"
	"github.com/taucoin/taunode/foundation/validate"
	"github.com/taucoin/taunode/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of public node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	// Need this to handle CORS on the websocket.
	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	// This upgrades the HTTP connection to a websocket connection.
	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	// This provides a channel for receiving events from the blockchain.
	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	// Starting a ticker to send a ping message over the websocket.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	// Block waiting to receive events and send them to the client.
	for {
		select {
		case msg, wd := <-ch:

			// If the channel is closed, release the websocket.
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitWalletTransaction adds a new wallet transaction to the mempool.
func (h Handlers) SubmitWalletTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var st submitTx
	if err := web.Decode(r, &st); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(st); err != nil {
		return err
	}

	signedTx := toSignedTx(st)

	h.Log.Infow("add user tran", "traceid", v.TraceID, "sender", signedTx.Sender, "to", signedTx.ReceiveAddress, "amount", signedTx.Amount, "fee", signedTx.Fee)
	if err := h.State.SubmitWalletTransaction(signedTx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := struct {
		Status string `json:"status"`
		Hash   string `json:"hash"`
	}{
		Status: "transaction added to mempool",
		Hash:   signedTx.Hash(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Genesis(), http.StatusOK)
}

// Mempool returns the set of pending transactions, optionally for a single
// account.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var acct database.AccountID
	if param := web.Param(r, "account"); param != "" {
		id, err := database.ToAccountID(param)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		acct = id
	}

	pending := h.State.PendingTransactions()

	trans := make([]tx, 0, len(pending))
	for _, tran := range pending {
		if acct != "" && acct != tran.Sender && acct != tran.ReceiveAddress {
			continue
		}
		trans = append(trans, toTx(h.NS, tran))
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// Accounts returns the current balances and forge power for all accounts or
// the specified one.
func (h Handlers) Accounts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var accounts []database.Account

	switch param := web.Param(r, "account"); param {
	case "":
		accounts = h.State.QueryAccounts()

	default:
		accountID, err := database.ToAccountID(param)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}

		acct, err := h.State.QueryAccount(accountID)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				return errs.NewTrusted(err, http.StatusNotFound)
			}
			return err
		}
		accounts = []database.Account{acct}
	}

	acts := make([]account, len(accounts))
	for i, acct := range accounts {
		acts[i] = account{
			Account:    acct.AccountID,
			Name:       h.NS.Lookup(acct.AccountID),
			Balance:    acct.Balance,
			ForgePower: acct.ForgePower,
		}
	}

	ai := actInfo{
		LatestBlock: h.State.LatestBlock().Hash().String(),
		Uncommitted: h.State.QueryMempoolLength(),
		Accounts:    acts,
	}

	return web.Respond(ctx, w, ai, http.StatusOK)
}

// BlocksByNumber returns the canonical blocks in the specified range.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := parseNumber(web.Param(r, "from"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	to, err := parseNumber(web.Param(r, "to"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if from > to {
		return errs.NewTrusted(errors.New("from greater than to"), http.StatusBadRequest)
	}

	dbBlocks, err := h.State.QueryBlocksByNumber(from, to)
	if err != nil {
		return err
	}

	if len(dbBlocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	blocks := make([]block, len(dbBlocks))
	for i, blk := range dbBlocks {
		blocks[i] = toBlock(h.NS, blk)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// PoTInfo returns the forging position of this node on top of the tip.
func (h Handlers) PoTInfo(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	info, err := h.State.PoTInfo()
	if err != nil && !errors.Is(err, state.ErrNoForgingPower) {
		return err
	}

	return web.Respond(ctx, w, info, http.StatusOK)
}

// =============================================================================

// parseNumber converts a block number parameter. An empty value or "latest"
// means the tip.
func parseNumber(s string) (uint64, error) {
	if s == "" || s == "latest" {
		return state.QueryLatest, nil
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block number %q", s)
	}

	return n, nil
}
