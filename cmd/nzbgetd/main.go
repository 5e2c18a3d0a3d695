// Command nzbgetd is the binary-newsgroup download queue and
// post-processing daemon.
package main

import "github.com/nzbget-go/core/cmd/nzbgetd/cmd"

func main() {
	cmd.Execute()
}
