package main

import "github.com/zombar/newsranker/internal/cli"

func main() {
	cli.Execute()
}
