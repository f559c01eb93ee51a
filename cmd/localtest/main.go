package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	logx "github.com/wapuda/autorename/internal/logs"
)

// localtest exercises naming, captions and tagging against local files
// without a Telegram connection.
func main() {
	logx.Setup(logx.FromEnv("localtest"))
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
