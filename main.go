// ./main.go
package main

import (
	"github.com/xkilldash9x/routelens/cmd"
)

// main is the entry point for the routelens application.
func main() {
	cmd.Execute()
}
