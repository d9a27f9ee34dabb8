package main

import "pkthub/cmd/cli/command"

func main() {
	command.Execute()
}
