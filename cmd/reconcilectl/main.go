// Command reconcilectl inspects and maintains the reconciler's SQLite
// databases: schema migration, order status, attempt history and estimate
// fingerprints.
package main

import (
	"fmt"
	"os"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
