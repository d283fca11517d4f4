// Command dedupctl talks to a running notifyguard gateway.
package main

import (
	"os"

	"github.com/SebastienMelki/notifyguard/cmd/dedupctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
