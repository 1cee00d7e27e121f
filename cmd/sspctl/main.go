// Command sspctl is a developer-facing inspection CLI for a running sspd
// process. It has no control-plane RPC to dial: sspd manages exactly one
// session per process and exposes no session-mutation surface, so sspctl
// only ever reads the same Prometheus endpoint an operator's monitoring
// stack would scrape.
package main

import "github.com/chronostruct/gossp/cmd/sspctl/commands"

func main() {
	commands.Execute()
}
