package main

import (
	"fmt"
	"os"

	"github.com/agentcore/runtime/cmd/agentcore/commands"
)

// version is stamped by the build.
var version = "dev"

func main() {
	if err := commands.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
