package main

import "github.com/gridbuilder/elmtask/cmd"

func main() {
	cmd.Execute()
}
