// README: Entry point; hands off to the dispatchd command tree.
package main

import (
	"fmt"
	"os"

	"fleetdispatch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
