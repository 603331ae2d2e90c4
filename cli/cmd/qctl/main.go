// Command qctl estimates SSH chain spectra by simulated phase estimation.
package main

import (
	"fmt"
	"os"

	"github.com/perclft/sshqpe/cli/commands"
)

func main() {
	cmd := commands.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "qctl:", err)
		os.Exit(commands.GetExitCode(err))
	}
}
