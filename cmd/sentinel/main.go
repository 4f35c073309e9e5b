// sentinel is the governance gate for agent tool calls.
package main

import "github.com/ppiankov/sentinel/internal/cli"

func main() {
	cli.Execute()
}
