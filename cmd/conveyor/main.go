package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/poltergeist/conveyor/pkg/cli"
)

// set by -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("[conveyor]"), err)
		os.Exit(1)
	}
}
