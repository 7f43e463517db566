// lexadmin command-line client
// Drives a running lexstore server over gRPC
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand(dialServer).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
