package main

import (
	"os"

	"github.com/adalundhe/switchyard/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
