// Command streamcore is the CLI front end for the streaming core: play a
// network audio URL to the default output device, or probe one without
// committing to full playback.
package main

import (
	"fmt"
	"os"

	"github.com/tphakala/streamcore/cmd"
)

func main() {
	if err := cmd.RootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
