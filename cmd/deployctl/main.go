package main

import (
	"os"

	"github.com/bnema/deployctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
