// Package main is the chathub binary.
//
// Usage:
//
//	chathub [--config path] [--<key> <value> ...]   # serve
//	chathub hash-password <password>                # print an adminPasswordHash
//	chathub watch --url http://localhost:3000 ...   # follow a dashboard page
//	chathub version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/chathub/internal/config"
	"github.com/Tyrowin/chathub/internal/server"
)

// Version information, set at build time via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Process exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
	exitBind    = 3
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chathub [--config path] [--<key> <value> ...]",
		Short: "Local chat and notification WebSocket server with an admin console",
		Long: `chathub serves WebSocket clients on /admin/ws, a status page on /, and
an authenticated admin console under /admin.

Configuration is read from config.json next to the executable (created with
defaults when missing) and may be overridden per key on the command line:

  chathub --port 4000 --logLevel debug --maxConnections 500`,
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE:               runServe,
	}
	root.AddCommand(newHashPasswordCmd(), newWatchCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chathub %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
		},
	}
}

// execute runs the command line and maps the outcome to an exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	var cfgErr *config.ConfigError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &cfgErr):
		return exitConfig
	case errors.Is(err, server.ErrBind):
		return exitBind
	default:
		return exitFailure
	}
}

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
