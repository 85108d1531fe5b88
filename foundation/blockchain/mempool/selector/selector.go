// Package selector provides different transaction selecting algorithms.
package selector

import (
	"fmt"
	"sort"

	"github.com/taucoin/taunode/foundation/blockchain/database"
)

// List of different select strategies.
const (
	StrategyFee    = "fee"
	StrategyOldest = "oldest"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyFee:    feeSelect,
	StrategyOldest: oldestSelect,
}

// Func defines a function that takes a mempool of transactions grouped by
// sender and selects howMany of them in an order based on the functions
// strategy. All selector functions MUST keep each sender's transactions in
// timestamp order. Receiving -1 for howMany must return all the transactions
// in the strategies ordering.
type Func func(transactions map[database.AccountID][]database.SignedTx, howMany int) []database.SignedTx

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// sortByTimestamp orders a sender's transactions oldest first. Equal
// timestamps fall back to the transaction hash so the order is stable across
// nodes.
func sortByTimestamp(txs []database.SignedTx) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].TimeStamp != txs[j].TimeStamp {
			return txs[i].TimeStamp < txs[j].TimeStamp
		}
		return txs[i].Hash() < txs[j].Hash()
	})
}

// sortByFee orders transactions by fee, highest first.
func sortByFee(txs []database.SignedTx) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Fee > txs[j].Fee
	})
}
