package main

import (
	"fmt"
	"os"

	"github.com/condenser-ai/condenser/cmd/condenser/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
