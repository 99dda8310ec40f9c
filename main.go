package main

import "github.com/devicelab-dev/uisync/pkg/cli"

func main() {
	cli.Execute()
}
