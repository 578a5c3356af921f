// Command mdvdb indexes and searches a directory of Markdown files.
package main

import (
	"fmt"
	"os"

	"github.com/mdvdb/mdvdb/cmd/mdvdb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
