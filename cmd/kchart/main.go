// Command kchart collects hourly Korean music charts, resolves their songs
// against the reference catalog and serves the weighted aggregate.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
