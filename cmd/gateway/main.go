// Command gateway is the reverse proxy's process entry point.
package main

import "github.com/fabian4/gateway-homebrew-go/cmd/gateway/cmd"

func main() {
	cmd.Execute()
}
