package main

import (
	"fmt"
	"os"

	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
