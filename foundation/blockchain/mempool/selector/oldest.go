package selector

import (
	"github.com/taucoin/taunode/foundation/blockchain/database"
)

// oldestSelect returns transactions in the order they were created.
var oldestSelect = func(m map[database.AccountID][]database.SignedTx, howMany int) []database.SignedTx {
	var all []database.SignedTx
	for _, txs := range m {
		all = append(all, txs...)
	}
	sortByTimestamp(all)

	if howMany == -1 || howMany > len(all) {
		howMany = len(all)
	}

	final := make([]database.SignedTx, howMany)
	copy(final, all)

	return final
}
