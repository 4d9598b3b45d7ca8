// Command pipelinectl operates the property-sale-deed document batch
// pipeline from the terminal: admitting batches, running the two-stage
// OCR/LLM extraction engine to completion, and reporting on progress.
package main

import (
	"fmt"
	"os"

	"github.com/kaveri/deedscan/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
