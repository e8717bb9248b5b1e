package main

import "github.com/ppiankov/rpcwarden/internal/cli"

func main() {
	cli.Execute()
}
