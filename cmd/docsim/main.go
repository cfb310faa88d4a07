// docsim submits documents to the extraction gateway and follows the tasks it creates.
package main

import (
	"os"

	"github.com/docsim/docsim-client/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
