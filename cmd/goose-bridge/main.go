// Command goose-bridge runs a goose agent server for an editor workspace and
// exposes it to a webview over a local WebSocket gateway. It also offers a
// terminal chat and one-shot commands against the same agent.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
