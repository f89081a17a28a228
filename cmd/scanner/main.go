package main

import "github.com/rjoudeh/duewatch/services/scanner/cli"

func main() {
	cli.Execute()
}
