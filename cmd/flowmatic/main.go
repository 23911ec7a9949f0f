package main

import "github.com/flowmatic/flowmatic/cli"

func main() {
	cli.Execute()
}
