package main

import (
	"os"

	"github.com/yeguo/idm/internal/command"
)

func main() {
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}
