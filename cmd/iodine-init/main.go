// Program iodine-init is PID 1: it runs the start stage, supervises
// the service stage, and reaps every orphaned child for the life of
// the system. See package pid1 for the lifecycle itself.
package main

import (
	"fmt"
	"os"

	"github.com/hen6003/iodine/logging"
	"github.com/hen6003/iodine/pid1"
)

func main() {
	args := os.Args

	if len(args) > 1 {
		switch args[1] {
		case "-v":
			fmt.Printf("Iodine version: %s\n", pid1.Version)
		default:
			fmt.Println("Usage: iodine-init [-v]")
		}
		return
	}

	logging.Init()

	if err := pid1.Init(nil); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
