// Package web provides the default admin UI assets.
//
// The assets are embedded at compile time and written to the configured
// admin root on first start, after which operators may edit them on disk.
package web

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Assets holds the default admin tree under "admin/":
//
//	admin/
//	  login.html        login form, public
//	  dashboard.html    dashboard shell
//	  static/           stylesheet and script, public
//	  pages/            page fragments served by /admin/api/pages/<id>
//
//go:embed admin
var Assets embed.FS

// Admin returns the embedded admin tree rooted at its top directory.
func Admin() fs.FS {
	sub, err := fs.Sub(Assets, "admin")
	if err != nil {
		panic(err)
	}
	return sub
}

// Seed writes the embedded admin tree to dir when dir does not exist yet.
// It reports whether files were written. An existing directory is left
// untouched.
func Seed(dir string) (bool, error) {
	if _, err := os.Stat(dir); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat admin root %s: %w", dir, err)
	}

	src := Admin()
	err := fs.WalkDir(src, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(name))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := fs.ReadFile(src, name)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
	if err != nil {
		return false, fmt.Errorf("seed admin root %s: %w", dir, err)
	}
	return true, nil
}
