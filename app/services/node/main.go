package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/taucoin/taunode/app/services/node/handlers"
	"github.com/taucoin/taunode/business/sys/metrics"
	"github.com/taucoin/taunode/foundation/blockchain/chainsync"
	"github.com/taucoin/taunode/foundation/blockchain/database/storage/leveldb"
	"github.com/taucoin/taunode/foundation/blockchain/genesis"
	"github.com/taucoin/taunode/foundation/blockchain/peer"
	"github.com/taucoin/taunode/foundation/blockchain/state"
	"github.com/taucoin/taunode/foundation/blockchain/worker"
	"github.com/taucoin/taunode/foundation/events"
	"github.com/taucoin/taunode/foundation/logger"
	"github.com/taucoin/taunode/foundation/nameservice"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
		}
		State struct {
			ForgerName     string        `conf:"default:miner1"`
			DBPath         string        `conf:"default:zblock/taunode.db"`
			GenesisPath    string        `conf:"default:zblock/genesis.json"`
			SelectStrategy string        `conf:"default:fee"`
			KnownPeers     []string      `conf:"default:0.0.0.0:9080;0.0.0.0:9180"`
			TxsPerBlock    int           `conf:"default:256"`
			SyncInterval   time.Duration `conf:"default:2s"`
			PeerInterval   time.Duration `conf:"default:10s"`
		}
		Peer struct {
			MaxActivePeers int           `conf:"default:25"`
			Trusted        []string      `conf:"default:127.0.0.1"`
			RequestTimeout time.Duration `conf:"default:10s"`
		}
		NameService struct {
			Folder string `conf:"default:zblock/accounts/"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "Proof of Transaction full node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	fmt.Println(`  _____ _   _   _ _   _  ___  ____  _____ `)
	fmt.Println(` |_   _/ \ | | | | \ | |/ _ \|  _ \| ____|`)
	fmt.Println(`   | |/ _ \| | | |  \| | | | | | | |  _|  `)
	fmt.Println(`   | / ___ \ |_| | |\  | |_| | |_| | |___ `)
	fmt.Println(`   |_/_/   \_\___/|_| \_|\___/|____/|_____|`)
	fmt.Print("\n")

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Name Service Support

	// The nameservice package provides name resolution for account addresses.
	// The names come from the file names in the zblock/accounts folder.
	ns, err := nameservice.New(cfg.NameService.Folder)
	if err != nil {
		return fmt.Errorf("unable to load account name service: %w", err)
	}

	// Logging the accounts for documentation in the logs.
	for account, name := range ns.Copy() {
		log.Infow("startup", "status", "nameservice", "name", name, "account", account)
	}

	// =========================================================================
	// Blockchain Support

	// Need to load the private key file for the configured forger so the
	// account can get credited with fees and sign the blocks it forges.
	path := filepath.Join(cfg.NameService.Folder, fmt.Sprintf("%s.ecdsa", cfg.State.ForgerName))
	privateKey, err := crypto.LoadECDSA(path)
	if err != nil {
		return fmt.Errorf("unable to load private key for node: %w", err)
	}

	gen, err := genesis.Load(cfg.State.GenesisPath)
	if err != nil {
		return fmt.Errorf("unable to load genesis: %w", err)
	}

	// A host set is a collection of known nodes in the network so
	// transactions and blocks can be shared.
	knownHosts := peer.NewHostSet(cfg.State.KnownPeers...)

	trusted, err := peer.NewTrustFilter(cfg.Peer.Trusted)
	if err != nil {
		return fmt.Errorf("parsing trusted peers: %w", err)
	}

	// The blockchain packages accept a function of this signature to allow the
	// application to log. For now, these raw messages are sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// Blocks, the canonical index and the sync queue all live in one
	// leveldb database.
	kv, err := leveldb.New(cfg.State.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	// The state value represents the blockchain node and manages the blockchain
	// database and provides an API for application support. Shutting down the
	// state closes the database.
	st, err := state.New(state.Config{
		ForgerKey:      privateKey,
		Host:           cfg.Web.PrivateHost,
		Genesis:        gen,
		Storage:        kv,
		SelectStrategy: cfg.State.SelectStrategy,
		TxsPerBlock:    cfg.State.TxsPerBlock,
		KnownHosts:     knownHosts,
		EvHandler:      ev,
	})
	if err != nil {
		kv.Close()
		return err
	}
	defer st.Shutdown()

	log.Infow("startup", "status", "state", "forger", st.ForgerID(), "node", st.NodeID(), "tip", st.LatestBlock())

	queue, err := chainsync.NewQueue(kv)
	if err != nil {
		return fmt.Errorf("opening sync queue: %w", err)
	}

	syncManager, err := chainsync.New(chainsync.Config{
		Chain:     st,
		Queue:     queue,
		EvHandler: chainsync.EventHandler(ev),
	})
	if err != nil {
		return err
	}

	// The registry admits peers, distributes foreign blocks and floods the
	// mempool to new peers.
	registry, err := peer.NewRegistry(peer.Config{
		MaxActivePeers: cfg.Peer.MaxActivePeers,
		Trusted:        trusted,
		Sync:           syncManager,
		Pending:        st,
		EvHandler:      peer.EventHandler(ev),
	})
	if err != nil {
		return err
	}
	syncManager.SetListener(registry)

	registry.Run()
	defer registry.Shutdown()

	client := &http.Client{Timeout: cfg.Peer.RequestTimeout}

	// The worker package implements the different workflows such as forging,
	// chain sync, transaction peer sharing, and peer updates. The worker will
	// register itself with the state.
	worker.Run(worker.Config{
		State:        st,
		Registry:     registry,
		Sync:         syncManager,
		Client:       client,
		PeerInterval: cfg.State.PeerInterval,
		SyncInterval: cfg.State.SyncInterval,
		EvHandler:    ev,
	})

	metrics.PublishNode(
		func() uint64 { return st.LatestBlock().Number },
		registry.ActiveCount,
	)

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, syncManager)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		NS:       ns,
		Evts:     evts,
	})

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Construct the mux for the private API calls.
	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		Registry: registry,
		Client:   client,
		Ev:       ev,
	})

	// Construct a server to service the requests against the mux.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
