// The main package for the patrol-reporter executable.
package main

import (
	"github.com/JakeFAU/patrol-reporter/cmd"
)

func main() {
	cmd.Execute()
}
