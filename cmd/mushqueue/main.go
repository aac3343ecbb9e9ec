package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := execute(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "mushqueue: %s\n", err.Error())
		os.Exit(1)
	}
}
