// Package profile lays out the per-profile directories under the chatsync
// home. A profile owns one local store, one lock and one set of logs, so two
// profiles can hold different credentials on the same machine.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// DefaultName is used when neither the flag nor the config names a profile.
const DefaultName = "main"

// HomeEnv overrides the base directory.
const HomeEnv = "CHATSYNC_HOME"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name conforms to profile naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// BaseDir returns $CHATSYNC_HOME, or ~/.chatsync.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatsync")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// Resolve picks the active profile name: flag, then the configured default,
// then DefaultName.
func Resolve(flagOverride, configured string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if configured != "" {
		return configured
	}
	return DefaultName
}

// Profile is a validated profile rooted at Dir.
type Profile struct {
	Name string
	Dir  string
}

// New validates name and returns its profile under BaseDir.
func New(name string) (Profile, error) {
	return NewAt(BaseDir(), name)
}

// NewAt validates name and returns its profile under base.
func NewAt(base, name string) (Profile, error) {
	if err := ValidateName(name); err != nil {
		return Profile{}, err
	}
	return Profile{Name: name, Dir: filepath.Join(base, "profiles", name)}, nil
}

// LockPath returns the lock file guarding single ownership of the profile.
func (p Profile) LockPath() string {
	return filepath.Join(p.Dir, "LOCK")
}

// DBPath returns the SQLite store path.
func (p Profile) DBPath() string {
	return filepath.Join(p.Dir, "chatsync.db")
}

// LogDir returns the log directory.
func (p Profile) LogDir() string {
	return filepath.Join(p.Dir, "logs")
}

// LogPath returns the log file for the named program.
func (p Profile) LogPath(program string) string {
	return filepath.Join(p.LogDir(), program+".log")
}

// Ensure creates the profile directory tree with owner-only permissions.
func (p Profile) Ensure() error {
	for _, d := range []string{p.Dir, p.LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
