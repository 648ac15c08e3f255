// The main package for the plotmon executable.
package main

import (
	"github.com/JakeFAU/plotmon/cmd"
)

func main() {
	cmd.Execute()
}
