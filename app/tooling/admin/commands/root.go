// Package commands contains the admin commands for inspecting keys, the
// genesis file and the forging math.
package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const keyExtenstion = ".ecdsa"

var (
	log          *zap.SugaredLogger
	accountsPath string
	genesisPath  string
)

var rootCmd = &cobra.Command{
	Use:           "admin",
	Short:         "Administrative tasks for a taunode operator",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&accountsPath, "account-path", "p", "zblock/accounts/", "Path to the directory with private keys.")
	rootCmd.PersistentFlags().StringVarP(&genesisPath, "genesis", "g", "zblock/genesis.json", "Path to the genesis file.")
}

// Execute runs the command named on the command line.
func Execute(build string, logger *zap.SugaredLogger) error {
	log = logger
	rootCmd.Version = build

	return rootCmd.Execute()
}
