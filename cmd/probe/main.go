package main

import "github.com/armflash/probe/cmd/probe/cmd"

func main() {
	cmd.Execute()
}
