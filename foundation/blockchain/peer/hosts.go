package peer

import (
	"sort"
	"sync"
)

// HostSet is the set of private API hosts this node knows about. The worker
// dials them and shares them with peers that ask.
type HostSet struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

// NewHostSet constructs a set seeded with the given hosts.
func NewHostSet(hosts ...string) *HostSet {
	hs := HostSet{
		set: make(map[string]struct{}),
	}

	for _, host := range hosts {
		if host != "" {
			hs.set[host] = struct{}{}
		}
	}

	return &hs
}

// Add adds a host and reports whether it was new.
func (hs *HostSet) Add(host string) bool {
	if host == "" {
		return false
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()

	if _, exists := hs.set[host]; exists {
		return false
	}
	hs.set[host] = struct{}{}

	return true
}

// Remove removes a host from the set.
func (hs *HostSet) Remove(host string) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	delete(hs.set, host)
}

// Copy returns the known hosts other than exclude, sorted.
func (hs *HostSet) Copy(exclude string) []string {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	hosts := make([]string, 0, len(hs.set))
	for host := range hs.set {
		if host != exclude {
			hosts = append(hosts, host)
		}
	}
	sort.Strings(hosts)

	return hosts
}
