// Package main provides the entry point for the collabtext server.
package main

import (
	"fmt"
	"os"

	"github.com/weihanyau/ai-chat-live-document-editor-poc/cmd/collabtext/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
