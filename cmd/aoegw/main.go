// aoegw is the Telegram polling gateway for aoe-orch. It long-polls one
// bot, resolves chat messages into orchestrator commands, and reports
// task lifecycle back into the chat.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] "+err.Error())
		os.Exit(1)
	}
}
