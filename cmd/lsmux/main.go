// lsmux shares one language server per (project, server) pair between
// any number of editors. See `lsmux --help`.
package main

import (
	"os"

	"github.com/xfeldman/lsmux/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
