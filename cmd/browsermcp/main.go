package main

import "browsermcp/internal/cli"

func main() {
	cli.Execute()
}
