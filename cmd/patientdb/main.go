// Command patientdb manages local-first patient records and keeps replicas
// in sync over a shared broadcast medium.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/patientdb/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
