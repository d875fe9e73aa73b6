// Command teltubby runs the media-archiving bot: it wires the dedup store,
// object-store adapter, quota tracker, album aggregator, ingestion
// pipeline, job queue, large-file worker, auth-recovery loop, and the
// admin HTTP surface into one process, then serves until asked to stop.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
