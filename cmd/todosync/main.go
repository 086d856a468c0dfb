package main

import (
	"os"

	"github.com/existflow/todosync/internal/cli"
)

func main() {
	os.Exit(cli.Main())
}
