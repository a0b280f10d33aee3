// soundcheck: speech capture quality and DOA accuracy analysis
//
// Usage:
//
//	soundcheck [flags] <command> [args]
//
// Commands:
//
//	quality  - align captures to a reference and score them
//	doa      - decode and evaluate SSL channels of captures
//	live     - record DOA from an XVF3800 and evaluate it
//	serve    - run the HTTP API and event stream
//	reports  - browse the report archive
package main

import (
	"fmt"
	"os"

	"github.com/teslashibe/go-soundcheck/cmd/soundcheck/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
