package main

import "github.com/example/minder/internal/cli"

func main() {
	cli.Execute()
}
