package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"memberdir/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		os.Stderr.WriteString("dirctl: " + err.Error() + "\n")
		os.Exit(1)
	}
}
