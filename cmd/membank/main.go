package main

import (
	"os"

	"github.com/lazypower/membank/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
