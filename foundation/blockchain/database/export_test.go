package database

// Ledger steps the chain operations run internally, exposed to the tests.

func (db *Database) ApplyTransaction(tx Tx, coinbase AccountID) error {
	return db.applyTransaction(tx, coinbase)
}

func (db *Database) UndoTransaction(tx Tx, coinbase AccountID) error {
	return db.undoTransaction(tx, coinbase)
}

func (db *Database) ApplyBlock(block Block) error {
	return db.lockedApplyBlock(block)
}

func (db *Database) UndoBlock(block Block) error {
	return db.lockedUndoBlock(block)
}

func (db *Database) NewTxExecutor(tx Tx, coinbase AccountID) *TxExecutor {
	return db.newLockedExecutor(tx, coinbase)
}
