package main

import (
	"os"

	"github.com/mvalvano/telegrab/cmd/telegrab/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintErr("Error: %v", err)
		os.Exit(1)
	}
}
