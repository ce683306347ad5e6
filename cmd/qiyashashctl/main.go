package main

import (
	"os"

	"qiyashash/cmd/qiyashashctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
