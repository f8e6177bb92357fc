// Command ubvremux parses and remuxes proprietary .ubv camera recordings
// into standard MP4 files without transcoding.
package main

import (
	"os"

	"github.com/cambrix/ubvremux/cmd/ubvremux/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
