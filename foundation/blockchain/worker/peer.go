package worker

import (
	"context"
	"net"

	"github.com/taucoin/taunode/foundation/blockchain/peer"
)

// peerOperations handles finding new peers.
func (w *Worker) peerOperations() {
	w.evHandler("worker: peerOperations: G started")
	defer w.evHandler("worker: peerOperations: G completed")

	for {
		select {
		case <-w.peerTicker.C:
			if !w.isShutdown() {
				w.runPeersOperation()
			}
		case <-w.shut:
			w.evHandler("worker: peerOperations: received shut signal")
			return
		}
	}
}

// runPeersOperation dials the known hosts this node is not connected to yet
// and hands every successful handshake to the registry.
func (w *Worker) runPeersOperation() {
	w.evHandler("worker: runPeersOperation: started")
	defer w.evHandler("worker: runPeersOperation: completed")

	connected := make(map[string]bool)
	for _, ch := range w.registry.ActivePeers() {
		if hc, ok := ch.(interface{ Host() string }); ok {
			connected[hc.Host()] = true
		}
	}

	for _, host := range w.state.KnownHosts().Copy(w.state.Host()) {
		if connected[host] {
			continue
		}

		ip, _, err := net.SplitHostPort(host)
		if err != nil {
			w.evHandler("worker: runPeersOperation: host[%s]: ERROR: %s", host, err)
			w.state.KnownHosts().Remove(host)
			continue
		}

		if w.registry.IsRecentlyDisconnected(ip) {
			w.evHandler("worker: runPeersOperation: host[%s]: recently disconnected", host)
			continue
		}

		w.connect(host, ip)
	}
}

// connect performs the handshake with one host.
func (w *Worker) connect(host string, ip string) {
	ch := peer.NewHTTPChannel(peer.HTTPChannelConfig{
		Self:     w.state.NodeID(),
		Host:     host,
		RemoteIP: ip,
		Inbound:  false,
		Client:   w.client,
		OnClosed: func(ch *peer.HTTPChannel) {
			w.registry.NotifyDisconnect(ch)
		},
		EvHandler: peer.EventHandler(w.evHandler),
	})

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout())
	defer cancel()

	if err := ch.Handshake(ctx, w.state.Status()); err != nil {
		w.evHandler("worker: runPeersOperation: handshake: host[%s]: ERROR: %s", host, err)
		ch.OnDisconnect()
		return
	}

	for _, known := range ch.Status().KnownHosts {
		if w.state.KnownHosts().Add(known) {
			w.evHandler("worker: runPeersOperation: adding known host[%s]", known)
		}
	}

	w.registry.Add(ch)
}
