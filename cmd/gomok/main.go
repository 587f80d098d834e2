package main

import "github.com/jmcleod/gomok/cmd/gomok/cmd"

func main() {
	cmd.Execute()
}
