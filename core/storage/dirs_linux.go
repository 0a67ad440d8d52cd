//go:build linux

package storage

import (
	"os"
	"path/filepath"
)

func home() string {
	return os.Getenv("HOME")
}

func platformConfigDefault() string {
	return filepath.Join(home(), ".config", appName)
}

func platformDataDefault() string {
	return filepath.Join(home(), ".local", "share", appName)
}

func platformCacheDefault() string {
	return filepath.Join(home(), ".cache", appName)
}

func platformStateDefault() string {
	return filepath.Join(home(), ".local", "state", appName)
}
