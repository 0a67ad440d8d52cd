//go:build !linux && !windows

package storage

import (
	"os"
	"path/filepath"
)

func userDir(fn func() (string, error), fallback string) string {
	dir, err := fn()
	if err != nil {
		return filepath.Join(os.TempDir(), appName, fallback)
	}
	return filepath.Join(dir, appName)
}

func platformConfigDefault() string {
	return userDir(os.UserConfigDir, "config")
}

func platformDataDefault() string {
	return filepath.Join(userDir(os.UserConfigDir, "config"), "data")
}

func platformCacheDefault() string {
	return userDir(os.UserCacheDir, "cache")
}

func platformStateDefault() string {
	return filepath.Join(userDir(os.UserCacheDir, "cache"), "state")
}
