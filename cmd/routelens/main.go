// File: cmd/routelens/main.go
// Entrypoint for the routelens binary.
package main

import "github.com/xkilldash9x/routelens/cmd"

func main() {
	cmd.Execute()
}
