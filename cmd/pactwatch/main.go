// pactwatch runs and drives the multi-party agreement protocol server.
package main

import "github.com/ppiankov/pactwatch/internal/cli"

func main() {
	cli.Execute()
}
