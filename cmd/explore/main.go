package main

import "github.com/fog-of-explore/explore/internal/cli"

func main() {
	cli.Execute()
}
