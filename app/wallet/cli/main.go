// This program is a simple wallet for submitting transactions to a node.
package main

import "github.com/taucoin/taunode/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
