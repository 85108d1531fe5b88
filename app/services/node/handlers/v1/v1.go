// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/taucoin/taunode/app/services/node/handlers/v1/private"
	"github.com/taucoin/taunode/app/services/node/handlers/v1/public"
	"github.com/taucoin/taunode/foundation/blockchain/peer"
	"github.com/taucoin/taunode/foundation/blockchain/state"
	"github.com/taucoin/taunode/foundation/events"
	"github.com/taucoin/taunode/foundation/nameservice"
	"github.com/taucoin/taunode/foundation/web"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log      *zap.SugaredLogger
	State    *state.State
	Registry *peer.Registry
	Client   *http.Client
	Ev       state.EventHandler
	NS       *nameservice.NameService
	Evts     *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		NS:    cfg.NS,
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/genesis", pbl.Genesis)
	app.Handle(http.MethodGet, version, "/accounts/list", pbl.Accounts)
	app.Handle(http.MethodGet, version, "/accounts/list/:account", pbl.Accounts)
	app.Handle(http.MethodGet, version, "/blocks/list/:from/:to", pbl.BlocksByNumber)
	app.Handle(http.MethodGet, version, "/tx/pending", pbl.Mempool)
	app.Handle(http.MethodGet, version, "/tx/pending/:account", pbl.Mempool)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitWalletTransaction)
	app.Handle(http.MethodGet, version, "/pot/info", pbl.PoTInfo)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:      cfg.Log,
		State:    cfg.State,
		Registry: cfg.Registry,
		Client:   cfg.Client,
		Ev:       cfg.Ev,
	}

	app.Handle(http.MethodPost, version, "/node/peer/hello", prv.Hello)
	app.Handle(http.MethodPost, version, "/node/peer/disconnect", prv.Disconnect)
	app.Handle(http.MethodPost, version, "/node/block/new", prv.NewBlock)
	app.Handle(http.MethodPost, version, "/node/tx/new", prv.NewTransactions)
	app.Handle(http.MethodGet, version, "/node/block/hashes/:hash/:max", prv.BlockHashes)
	app.Handle(http.MethodPost, version, "/node/block/list", prv.BlocksByHash)
	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
}
