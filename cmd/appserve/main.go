// Command appserve runs the demo greeter as a single logical instance.
//
// "appserve serve" makes the process the authoritative instance on the
// first free port from --port upward. Every other command works on that
// instance when it answers at the address, and on a local copy otherwise:
//
//	appserve serve --port 2000
//	appserve get message
//	appserve set message=bye
//	appserve call greet Ann
//	appserve ops
//	appserve watch --interval 1s
//
// Settings come from appserve.yaml, .env, APPSERVE_* variables and flags,
// in increasing order of precedence.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ln64-git/dynamic-server-app-template/internal/observability/logger"
)

func main() {
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	_ = logger.Sync()
	os.Exit(code)
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(stderr, "error:", err)
		}
		return 1
	}
	return 0
}
