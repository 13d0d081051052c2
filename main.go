// The main package for the leaderboard-sync executable.
package main

import (
	"github.com/JakeFAU/arena-leaderboard-sync/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
