// Command airlock runs the release-request review service: the HTTP
// API server, the upload scheduler, and the operator tooling around
// them. See the cli package for the command tree.
package main

import (
	"os"

	"airlock.evalgo.org/cli"
)

func main() {
	os.Exit(cli.Execute())
}
