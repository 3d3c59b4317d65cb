package main

import (
	"fmt"
	"os"

	"github.com/FACorreiaa/skyparts-market/cmd/ingest/cmd"
)

var version = "dev"

func main() {
	if err := cmd.NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
