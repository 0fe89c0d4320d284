package main

import (
	"os"

	"sealchat/cmd/sealchat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
