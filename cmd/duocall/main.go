package main

import "github.com/duocall/duocall/internal/cli"

func main() {
	cli.Execute()
}
