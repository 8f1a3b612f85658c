// Command rgbds-go is the entry point for the rgbasm/rgblink toolchain,
// mirroring the teacher's main.go: import the subcommand packages for
// their init()-time registration, then call the root command's Execute.
package main

import (
	"github.com/gbdev/rgbds-go/cmd/root"

	_ "github.com/gbdev/rgbds-go/cmd/rgbasm"
	_ "github.com/gbdev/rgbds-go/cmd/rgblink"
)

func main() {
	root.Execute()
}
