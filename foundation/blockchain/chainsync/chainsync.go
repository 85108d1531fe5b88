// Package chainsync brings the local chain up to the best chain known by the
// connected peers. Retrieval runs in two phases: first the hashes of the
// missing blocks are collected, then the blocks are fetched and connected.
// Progress is persisted so an interrupted block retrieval resumes after a
// restart.
package chainsync

// StateName identifies the phase the sync is in.
type StateName int

// Set of sync phases.
const (
	Idle StateName = iota
	HashRetrieving
	DoneHashRetrieving
	BlockRetrieving
)

var stateNames = map[StateName]string{
	Idle:               "idle",
	HashRetrieving:     "hash retrieving",
	DoneHashRetrieving: "done hash retrieving",
	BlockRetrieving:    "block retrieving",
}

// String implements the fmt.Stringer interface.
func (s StateName) String() string {
	if name, exists := stateNames[s]; exists {
		return name
	}
	return "unknown"
}

// EventHandler defines a function that is called when events occur in the
// processing of the sync.
type EventHandler func(v string, args ...any)

// SolidBlocks reports whether fetched blocks are waiting to be connected.
type SolidBlocks interface {
	HasSolidBlocks() bool
}

// Initiate picks the phase to start in. Solid blocks left from an
// interrupted run mean block retrieval resumes, otherwise hashes are
// collected first.
func Initiate(queue SolidBlocks, evHandler EventHandler) StateName {
	if queue.HasSolidBlocks() {
		if evHandler != nil {
			evHandler("chainsync: Initiate: resumed interrupted block retrieval")
		}
		return BlockRetrieving
	}

	return HashRetrieving
}
