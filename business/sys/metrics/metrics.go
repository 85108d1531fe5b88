// Package metrics constructs the metrics the application will track.
package metrics

import (
	"expvar"
	"runtime"
)

// m holds the set of metrics to be tracked. The expvar package is already
// based on a singleton for the different metrics that are registered with
// the package so there isn't much choice here.
var m *metrics

// metrics represents the set of metrics we gather. These fields are safe to
// be accessed concurrently thanks to expvar. No extra abstraction is
// required.
type metrics struct {
	goroutines *expvar.Int
	requests   *expvar.Int
	errors     *expvar.Int
	panics     *expvar.Int
}

// init constructs the metrics value that will be used to capture metrics.
// The metrics value is stored in a package level variable since everything
// inside of expvar is registered as a singleton.
func init() {
	m = &metrics{
		goroutines: expvar.NewInt("goroutines"),
		requests:   expvar.NewInt("requests"),
		errors:     expvar.NewInt("errors"),
		panics:     expvar.NewInt("panics"),
	}
}

// AddGoroutines refreshes the goroutine metric every 100 requests.
func AddGoroutines() {
	if m.requests.Value()%100 == 0 {
		m.goroutines.Set(int64(runtime.NumGoroutine()))
	}
}

// AddRequests increments the request metric by 1.
func AddRequests() {
	m.requests.Add(1)
}

// AddErrors increments the errors metric by 1.
func AddErrors() {
	m.errors.Add(1)
}

// AddPanics increments the panics metric by 1.
func AddPanics() {
	m.panics.Add(1)
}

// PublishNode exposes the chain height and the number of active peers. The
// functions are called each time the debug vars endpoint is read.
func PublishNode(height func() uint64, peers func() int) {
	expvar.Publish("chain_height", expvar.Func(func() any { return height() }))
	expvar.Publish("active_peers", expvar.Func(func() any { return peers() }))
}
