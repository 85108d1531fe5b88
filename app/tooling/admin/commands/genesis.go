package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/blockchain/genesis"
)

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Print the genesis block built from the genesis file",
	RunE: func(cmd *cobra.Command, args []string) error {
		gen, err := genesis.Load(genesisPath)
		if err != nil {
			return err
		}

		block, err := database.GenesisBlock(gen)
		if err != nil {
			return err
		}

		fmt.Println("chain id:             ", gen.ChainID)
		fmt.Println("hash:                 ", block.Hash())
		fmt.Println("timestamp:            ", block.Timestamp())
		fmt.Println("base target:          ", block.BaseTarget)
		fmt.Println("cumulative difficulty:", block.CumulativeDifficulty)

		accounts := make([]string, 0, len(gen.Balances))
		for account := range gen.Balances {
			accounts = append(accounts, account)
		}
		sort.Strings(accounts)

		for _, account := range accounts {
			fmt.Printf("%s balance[%d] forge power[%d]\n", account, gen.Balances[account], gen.ForgePowers[account])
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(genesisCmd)
}
