// Command load-probe drives synthetic load against a service and verifies its
// SLO thresholds.
package main

import (
	"os"

	"yqhp/load-probe/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
