// The entrypoint for the temporad server.
package main

import (
	"log"

	"github.com/tempora-project/tempora/cmd/temporad/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
