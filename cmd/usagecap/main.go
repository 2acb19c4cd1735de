package main

import (
	"os"

	"github.com/inboxpilot/usagecap/internal/cli"
)

func main() {
	os.Exit(cli.ExecuteWithErrorCode(os.Args[1:]))
}
