package main

import (
	"os"

	"github.com/wiretamper/wiretamper/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
