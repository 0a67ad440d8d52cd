// Package storage resolves where switchyard keeps its files, honouring XDG
// overrides.
package storage

import (
	"os"
	"path/filepath"
	"sync"
)

const appName = "switchyard"

// Dirs are the per-user directories.
type Dirs struct {
	Config string // config.yaml
	Data   string // session database
	Cache  string
	State  string // logs
}

// ProjectDirs are the directories inside a project checkout.
type ProjectDirs struct {
	Root   string // .switchyard/
	Config string // .switchyard/config.yaml (committed)
	Local  string // .switchyard/local/ (gitignored)
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
)

// ResolveDirs returns the platform directories. The result is cached.
func ResolveDirs() *Dirs {
	globalDirsOnce.Do(func() {
		globalDirs = &Dirs{
			Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
			Data:   resolveDir("XDG_DATA_HOME", platformDataDefault()),
			Cache:  resolveDir("XDG_CACHE_HOME", platformCacheDefault()),
			State:  resolveDir("XDG_STATE_HOME", platformStateDefault()),
		}
	})
	return globalDirs
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, appName)
	}
	return fallback
}

func ResolveProjectDirs(projectRoot string) *ProjectDirs {
	root := filepath.Join(projectRoot, "."+appName)
	return &ProjectDirs{
		Root:   root,
		Config: filepath.Join(root, "config.yaml"),
		Local:  filepath.Join(root, "local"),
	}
}

func (d *Dirs) ConfigDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Config}, subpath...)...)
}

func (d *Dirs) DataDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Data}, subpath...)...)
}

// SessionDB is the default session database path.
func (d *Dirs) SessionDB() string {
	return d.DataDir("sessions.db")
}

// EnsureParent creates the directory holding path with 0700 permissions.
func EnsureParent(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o700)
}
