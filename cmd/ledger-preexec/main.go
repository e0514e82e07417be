// Command ledger-preexec is the process entry point: it builds the Cobra
// command tree and executes it, with a panic recovery wrapper around the
// whole run.
//
// Grounded on the teacher's cmd/demo/main.go, whose doc comment specifies
// exactly this shape (panic recovery, BuildCLI().Execute(), "main.go should
// be very simple, all logic lives in internal/cli") even though that file
// itself was left as a pseudocode stub; this is that stub made real.
package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/ledger-preexec/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
