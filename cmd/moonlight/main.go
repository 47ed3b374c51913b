package main

import (
	"os"

	"github.com/harun/moonlight/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
