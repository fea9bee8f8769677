package main

import (
	"fmt"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/chathub/internal/config"
	"github.com/Tyrowin/chathub/internal/dashboard"
	"github.com/Tyrowin/chathub/internal/logging"
)

var watchPages = []string{
	dashboard.PageDashboard,
	dashboard.PageMessages,
	dashboard.PageUsers,
	dashboard.PageLogs,
	dashboard.PageChannels,
	dashboard.PageSettings,
}

type watchOptions struct {
	url      string
	username string
	password string
	page     string
	format   string
	interval time.Duration
}

func newWatchCmd() *cobra.Command {
	opts := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow an admin dashboard page in the terminal",
		Long: `Log in to a running chathub server and print one admin page's data
every time it changes: periodically, and whenever the server pushes an event
for that page. The event stream is re-established after a fixed delay when
it drops.

Example:
  chathub watch --url http://localhost:3000 --username admin --password secret --page messages`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.url, "url", "http://localhost:3000", "server base URL")
	flags.StringVarP(&opts.username, "username", "u", "admin", "admin username")
	flags.StringVarP(&opts.password, "password", "p", "", "admin password")
	flags.StringVar(&opts.page, "page", dashboard.PageDashboard, "page to follow: "+strings.Join(watchPages, ", "))
	flags.StringVarP(&opts.format, "format", "o", "json", "data format: json or yaml")
	flags.DurationVar(&opts.interval, "interval", 5*time.Second, "periodic refresh interval")
	return cmd
}

func runWatch(cmd *cobra.Command, opts watchOptions) error {
	if !slices.Contains(watchPages, opts.page) {
		return fmt.Errorf("unknown page %q (want one of %s)", opts.page, strings.Join(watchPages, ", "))
	}
	if opts.format != "json" && opts.format != "yaml" {
		return fmt.Errorf("unknown format %q (want json or yaml)", opts.format)
	}

	client, err := dashboard.NewHTTPClient(opts.url)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Login(ctx, opts.username, opts.password); err != nil {
		return err
	}

	logger := logging.New(logging.Options{Level: config.LevelWarn, Console: cmd.ErrOrStderr()})
	defer logger.Close()

	view := newTerminalView(cmd.OutOrStdout(), opts.format)
	ctrl := dashboard.NewController(client, view, client, dashboard.Options{
		RefreshInterval: opts.interval,
		RetryFailed:     true,
		Logger:          logger.Slog(),
	})
	return ctrl.Run(ctx, opts.page)
}
