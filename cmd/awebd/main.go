// Command awebd is the aweb API server: agent identity, mail, chat,
// reservations, contacts and the merged conversations view, all behind a
// single Gin HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "awebd",
		Short: "aweb API server",
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newInitCommand())
	root.AddCommand(newSeedCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
