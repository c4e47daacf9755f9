package main

import (
	"os"

	"github.com/Azure/testbed-copilot/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
