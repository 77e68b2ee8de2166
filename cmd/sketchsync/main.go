// Command sketchsync keeps local diagram projects in sync with a
// directory in a GitHub or GitLab repository.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
