// Command crosstx operates an atomic cross-store transaction deployment.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/crosstx/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()

	// ExitErrors were already reported by the command; anything else is a
	// cobra usage error.
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
