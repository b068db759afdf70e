// Command graphctl administers a knowgraph store: it applies migrations,
// inspects history and imports graphs exported from older deployments.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
