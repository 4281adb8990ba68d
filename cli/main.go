package main

import (
	"os"

	"github.com/oceanlab/specimen-stack/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
