package main

import "github.com/rjoudeh/duewatch/services/worker/cli"

func main() {
	cli.Execute()
}
