// Package main is the entry point for the gloom CLI.
package main

import "gloom.dev/pkg/gloom/cmd"

func main() {
	cmd.Execute()
}
