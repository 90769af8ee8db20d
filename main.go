// The main package for the applybot executable.
package main

import (
	"applybot/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
