// The main package for the scrape executable.
package main

import (
	"os"

	"github.com/JakeFAU/site-mirror/cmd"
)

// main defers all execution to the Cobra CLI and exits with its status.
func main() {
	os.Exit(cmd.Execute())
}
