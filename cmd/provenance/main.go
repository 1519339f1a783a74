package main

import (
	"os"

	"provenance/internal/cliapp"
)

func main() {
	os.Exit(cliapp.Run(os.Args[1:]))
}
