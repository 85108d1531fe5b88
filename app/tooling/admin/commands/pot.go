package commands

import (
	"fmt"
	"math/big"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/taucoin/taunode/foundation/blockchain/pot"
	"github.com/taucoin/taunode/foundation/blockchain/signature"
)

var (
	prevGenSig   string
	baseTarget   string
	forgingPower uint64
)

var hitCmd = &cobra.Command{
	Use:   "hit <name>",
	Short: "Print the hit and forging interval of a key on top of a generation signature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		privateKey, err := crypto.LoadECDSA(filepath.Join(accountsPath, args[0]+keyExtenstion))
		if err != nil {
			return err
		}

		raw, err := hexutil.Decode(prevGenSig)
		if err != nil {
			return fmt.Errorf("generation signature: %w", err)
		}
		if len(raw) != 32 {
			return fmt.Errorf("generation signature must be 32 bytes, got %d", len(raw))
		}

		var prev [32]byte
		copy(prev[:], raw)

		bt, ok := new(big.Int).SetString(baseTarget, 0)
		if !ok {
			return fmt.Errorf("invalid base target %q", baseTarget)
		}

		genSig := pot.NextGenerationSignature(prev, signature.CompressPublicKey(privateKey))
		hit := pot.RandomHit(genSig)

		interval, err := pot.ForgingTimeInterval(hit, bt, forgingPower)
		if err != nil {
			return err
		}

		fmt.Println("generation signature:", hexutil.Encode(genSig[:]))
		fmt.Println("hit:                 ", hit)
		fmt.Println("interval (seconds):  ", interval)

		return nil
	},
}

var baseTargetCmd = &cobra.Command{
	Use:   "basetarget",
	Short: "Print the retargeting constants",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("genesis base target:", pot.GenesisBaseTarget, hexutil.EncodeBig(pot.GenesisBaseTarget))
		fmt.Println("hit coefficient:    ", pot.HitCoefficient)
		fmt.Println("target block time:  ", pot.TargetBlockTime)
		fmt.Println("max ratio:          ", pot.MaxRatio)
		fmt.Println("min ratio:          ", pot.MinRatio)
	},
}

func init() {
	hitCmd.Flags().StringVarP(&prevGenSig, "gensig", "s", "", "Generation signature of the parent block.")
	hitCmd.MarkFlagRequired("gensig")
	hitCmd.Flags().StringVarP(&baseTarget, "basetarget", "b", pot.GenesisBaseTarget.String(), "Base target of the next block.")
	hitCmd.Flags().Uint64VarP(&forgingPower, "power", "f", 1, "Forging power of the account.")

	rootCmd.AddCommand(hitCmd)
	rootCmd.AddCommand(baseTargetCmd)
}
