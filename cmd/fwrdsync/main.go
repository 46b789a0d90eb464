package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/tui"
)

// Version is the version of the application, set at build time
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	debuglog.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, tui.RenderStatus(tui.StatusError, err.Error()))
		os.Exit(1)
	}
}
