package cmd

import (
	"fmt"
	"io"
)

const banner = `
   __ _  ___  _ __ ___   ___ | | __
  / _' |/ _ \| '_ ' _ \ / _ \| |/ /
 | (_| | (_) | | | | | | (_) |   <
  \__, |\___/|_| |_| |_|\___/|_|\_\
   __/ |
  |___/
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Gomoku Relay Server - Version %s\x1b[0m\n\n", Version)
}
