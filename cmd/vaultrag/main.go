package main

import "vaultrag/internal/cli"

func main() {
	cli.Execute()
}
