// sessionctl lists, releases, deletes and sweeps session rows, and manages driver accounts.
package main

import (
	"os"

	"warehouse-service/backend/internal/cli"
)

func main() {
	if err := cli.NewRootCmd(cli.OpenFromConfig).Execute(); err != nil {
		os.Exit(1)
	}
}
