// Command semdex is the entry point for the semantic document index.
// It provides a CLI (via Cobra) for ingesting and querying collections and
// an optional HTTP server exposing the same operations as a JSON API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/semdex-go/cmd/semdex/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
