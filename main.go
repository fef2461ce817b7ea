package main

import "github.com/andrewmarklloyd/mf15-lock-bridge/cmd"

func main() {
	cmd.Execute()
}
