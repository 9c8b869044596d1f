package main

import "hadaily/internal/cli"

func main() {
	cli.Execute()
}
