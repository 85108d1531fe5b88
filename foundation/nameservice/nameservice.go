// Package nameservice reads the zblock/accounts folder and creates a name
// service lookup for the accounts with key files on this machine.
package nameservice

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/taucoin/taunode/foundation/blockchain/database"
)

// keyExt is the extension of the private key files.
const keyExt = ".ecdsa"

// NameService maintains a map of accounts for name lookup.
type NameService struct {
	accounts map[database.AccountID]string
	names    map[string]database.AccountID
}

// New constructs a name service with accounts from the key files in folder.
func New(folder string) (*NameService, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("reading folder: %w", err)
	}

	ns := NameService{
		accounts: make(map[database.AccountID]string),
		names:    make(map[string]database.AccountID),
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != keyExt {
			continue
		}

		privateKey, err := crypto.LoadECDSA(filepath.Join(folder, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("loading key %s: %w", entry.Name(), err)
		}

		name := strings.TrimSuffix(entry.Name(), keyExt)
		accountID := database.PublicKeyToAccountID(privateKey.PublicKey)

		ns.accounts[accountID] = name
		ns.names[name] = accountID
	}

	return &ns, nil
}

// Lookup returns the name for the specified account or the account itself
// when no name is known.
func (ns *NameService) Lookup(accountID database.AccountID) string {
	name, exists := ns.accounts[accountID]
	if !exists {
		return string(accountID)
	}
	return name
}

// Resolve returns the account for the specified name.
func (ns *NameService) Resolve(name string) (database.AccountID, bool) {
	accountID, exists := ns.names[name]
	return accountID, exists
}

// Copy returns a copy of the map of names and accounts.
func (ns *NameService) Copy() map[database.AccountID]string {
	cpy := make(map[database.AccountID]string, len(ns.accounts))
	for accountID, name := range ns.accounts {
		cpy[accountID] = name
	}
	return cpy
}
