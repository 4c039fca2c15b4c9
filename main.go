package main

import "github.com/sergev/bci/cmd"

func main() {
	cmd.Execute()
}
