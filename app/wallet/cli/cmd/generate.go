package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/taucoin/taunode/foundation/blockchain/database"
)

var overwriteKey bool

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Create a private key and print its account",
	RunE:  generateRun,
}

func init() {
	generateCmd.Flags().BoolVar(&overwriteKey, "force", false, "Replace a key that already exists.")
	rootCmd.AddCommand(generateCmd)
}

func generateRun(cmd *cobra.Command, args []string) error {
	path := getPrivateKeyPath()

	switch _, err := os.Stat(path); {
	case err == nil && !overwriteKey:
		return fmt.Errorf("%s exists, use --force to replace it", path)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return err
	}

	if err := crypto.SaveECDSA(path, privateKey); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", database.PublicKeyToAccountID(privateKey.PublicKey), path)
	return nil
}
