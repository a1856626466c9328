package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.huddle, or $HUDDLE_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("HUDDLE_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".huddle")
}

// SessionsDir holds one directory per session.
func SessionsDir() string {
	return filepath.Join(BaseDir(), "sessions")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(SessionsDir(), name)
}

// SocketPath returns the daemon's gRPC health socket.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// APISocketPath returns the socket the HTTP API listens on.
func APISocketPath(name string) string {
	return filepath.Join(Dir(name), "api.sock")
}

func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// ArchivePath returns the sqlite message archive.
func ArchivePath(name string) string {
	return filepath.Join(Dir(name), "huddle.db")
}

// LedgerPath returns the bolt file remembering notified message ids.
func LedgerPath(name string) string {
	return filepath.Join(Dir(name), "ledger.db")
}

func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

func LogPath(name string) string {
	return filepath.Join(LogDir(name), "huddled.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
