// Command flowcore is the entry point for the ingestion and workflow
// execution platform: a single long-running HTTP server plus its
// background pollers (scheduled-task dispatch, extraction submit tick,
// run execution). See cli.RootCmd for the full startup sequence.
package main

import (
	"log"

	"flowcore.dev/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
