package main

import (
	"context"
	"fmt"
	"os"

	"docvault-server/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "docvault:", err)
		os.Exit(1)
	}
}
