package main

import (
	"os"

	"labagent/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
