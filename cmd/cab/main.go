// cab supervises coding-agent CLI sessions running inside tmux.
package main

import (
	"os"

	"github.com/sploithunter/coding-agent-bridge/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
