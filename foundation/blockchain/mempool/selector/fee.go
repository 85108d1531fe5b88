package selector

import (
	"sort"

	"github.com/taucoin/taunode/foundation/blockchain/database"
)

// feeSelect returns transactions with the best fee while respecting the
// timestamp order of each sender.
var feeSelect = func(m map[database.AccountID][]database.SignedTx, howMany int) []database.SignedTx {
	if howMany == -1 {
		howMany = 0
		for _, txs := range m {
			howMany += len(txs)
		}
	}

	// Walk the senders in a fixed order so equal fees select the same way
	// on every call.
	senders := make([]database.AccountID, 0, len(m))
	for sender, txs := range m {
		sortByTimestamp(txs)
		senders = append(senders, sender)
	}
	sort.Slice(senders, func(i, j int) bool { return senders[i] < senders[j] })

	// Take the oldest transaction of every sender to form a row, then the
	// next one of every sender and so on.
	var rows [][]database.SignedTx
	for {
		var row []database.SignedTx
		for _, sender := range senders {
			if len(m[sender]) > 0 {
				row = append(row, m[sender][0])
				m[sender] = m[sender][1:]
			}
		}
		if row == nil {
			break
		}
		rows = append(rows, row)
	}

	// Rows are taken whole while they fit. The row that does not fit is
	// sorted by fee and the best are taken from it.
	final := []database.SignedTx{}
	for _, row := range rows {
		need := howMany - len(final)
		if len(row) > need {
			sortByFee(row)
			final = append(final, row[:need]...)
			break
		}
		final = append(final, row...)
	}

	return final
}
