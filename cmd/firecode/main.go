package main

import (
	"os"

	"github.com/seymurkafkas/firecode/internal/cli"
	"github.com/seymurkafkas/firecode/pkg/version"
)

func run() error {
	return cli.NewRootCmd(version.GetVersion()).Execute()
}

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}
