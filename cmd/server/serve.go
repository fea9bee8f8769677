package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/chathub/internal/auth"
	"github.com/Tyrowin/chathub/internal/config"
	"github.com/Tyrowin/chathub/internal/logging"
	"github.com/Tyrowin/chathub/internal/server"
	"github.com/Tyrowin/chathub/web"
)

const generatedPasswordBytes = 12

// runServe resolves the configuration and runs the server until SIGINT or
// SIGTERM. Flag parsing is left to the configuration resolver.
func runServe(cmd *cobra.Command, args []string) error {
	for _, arg := range args {
		if arg == "-h" || arg == "--help" {
			return cmd.Help()
		}
	}

	baseDir := executableDir()
	configPath, overrides := config.SplitConfigPath(args, config.DefaultFileName)
	configPath = resolvePath(baseDir, configPath)

	cfg, err := config.Resolve(config.Default(), configPath, overrides,
		config.WithPersistErrorHandler(func(path string, err error) {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: could not write default configuration to %s: %v\n", path, err)
		}),
	)
	if err != nil {
		return err
	}
	cfg.LogDir = resolvePath(baseDir, cfg.LogDir)
	cfg.AdminRoot = resolvePath(baseDir, cfg.AdminRoot)
	if cfg.AdminPasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(cfg.AdminPasswordHash)); err != nil {
			return &config.ConfigError{Path: configPath, Key: "adminPasswordHash", Err: err}
		}
	}

	logger := logging.New(logging.Options{
		Dir:     cfg.LogDir,
		Level:   cfg.LogLevel,
		Console: cmd.OutOrStdout(),
	})
	defer logger.Close()
	log := logger.Slog().With("component", "main")
	log.Info("configuration loaded", "path", configPath, "port", cfg.Port, "log_file", logger.Path())

	if cfg.AdminEnabled {
		seeded, err := web.Seed(cfg.AdminRoot)
		switch {
		case err != nil:
			log.Warn("admin assets unavailable", "root", cfg.AdminRoot, "error", err)
		case seeded:
			log.Info("default admin assets written", "root", cfg.AdminRoot)
		}

		if cfg.AuthRequired && cfg.AdminPasswordHash == "" {
			password, hash, err := generatePassword()
			if err != nil {
				return fmt.Errorf("generate admin password: %w", err)
			}
			cfg.AdminPasswordHash = hash
			fmt.Fprintf(cmd.ErrOrStderr(), "No adminPasswordHash configured; generated password for %q for this run: %s\n",
				cfg.AdminUsername, password)
			log.Warn("using a generated admin password for this run; set adminPasswordHash to make it permanent")
		}
	}

	s, err := server.New(*cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		log.Error("server stopped", "error", err)
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func generatePassword() (password, hash string, err error) {
	password, err = auth.RandomPassword(generatedPasswordBytes)
	if err != nil {
		return "", "", err
	}
	hash, err = auth.HashPassword(password)
	if err != nil {
		return "", "", err
	}
	return password, hash, nil
}

// executableDir returns the directory holding the running binary, falling
// back to the working directory.
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the bcrypt hash to store as adminPasswordHash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
