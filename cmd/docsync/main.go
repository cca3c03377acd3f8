// Package main is the entry point for the docsync CLI.
package main

import (
	"os"

	"github.com/mhadocs/docsync/cmd/docsync/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
