package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/taucoin/taunode/foundation/blockchain/database"
)

type account struct {
	Account    string `json:"account"`
	Balance    uint64 `json:"balance"`
	ForgePower uint64 `json:"forge_power"`
}

type accounts struct {
	LatestBlock string    `json:"latest_block"`
	Uncommitted int       `json:"uncommitted"`
	Accounts    []account `json:"accounts"`
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print your balance and forge power.",
	Run:   balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}

func balanceRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	accountID := database.PublicKeyToAccountID(privateKey.PublicKey)
	fmt.Println("For Account:", accountID)

	resp, err := http.Get(fmt.Sprintf("%s/v1/accounts/list/%s", url, accountID))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		fmt.Println("balance: 0")
		return
	}

	decoder := json.NewDecoder(resp.Body)
	var acts accounts
	if err := decoder.Decode(&acts); err != nil {
		log.Fatal(err)
	}

	if len(acts.Accounts) > 0 {
		fmt.Println("balance:    ", acts.Accounts[0].Balance)
		fmt.Println("forge power:", acts.Accounts[0].ForgePower)
	}
}
