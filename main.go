// The main package for the invite-crawler executable.
package main

import (
	"os"

	"github.com/JakeFAU/invite-crawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
