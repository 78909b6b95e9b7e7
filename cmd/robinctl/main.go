package main

import (
	"os"

	"github.com/robinclaw/robinclaw/cmd/robinctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
