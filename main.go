// The main package for the forum-crawler executable.
package main

import (
	"github.com/JakeFAU/forum-crawler/cmd"
)

func main() {
	cmd.Execute()
}
