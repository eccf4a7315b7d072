package main

import (
	"os"

	"github.com/docland/docland/cmd/docland"
)

var version = "2.1.0"

func main() {
	docland.SetVersion(version)
	if err := docland.Execute(); err != nil {
		os.Exit(1)
	}
}
