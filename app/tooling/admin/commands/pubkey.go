package commands

import (
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/blockchain/signature"
)

var pubkeyCmd = &cobra.Command{
	Use:   "pubkey <name>",
	Short: "Print the account, compressed public key and node id of a key file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		privateKey, err := crypto.LoadECDSA(filepath.Join(accountsPath, args[0]+keyExtenstion))
		if err != nil {
			return err
		}

		fmt.Println("account:", database.PublicKeyToAccountID(privateKey.PublicKey))
		fmt.Println("pubkey: ", hexutil.Encode(signature.CompressPublicKey(privateKey)))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(pubkeyCmd)
}
