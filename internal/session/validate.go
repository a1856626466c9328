package session

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// maxSocketPath is the smallest sun_path among supported platforms (darwin).
const maxSocketPath = 104

// ErrInvalidName is returned for names ValidateName rejects.
var ErrInvalidName = errors.New("invalid session name")

// ValidateName checks that name is a usable session name: 1-32 characters of
// a-z, 0-9, '_' or '-', not starting with a separator, and short enough that
// the session's sockets fit in a unix socket address.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w %q: use 1-32 of a-z, 0-9, '_' or '-', starting with a letter or digit", ErrInvalidName, name)
	}
	if p := APISocketPath(name); len(p) >= maxSocketPath {
		return fmt.Errorf("%w %q: socket path %s is too long; set HUDDLE_HOME to a shorter directory", ErrInvalidName, name, p)
	}
	return nil
}

// List returns the sessions that have a directory, sorted by name.
func List() ([]string, error) {
	entries, err := os.ReadDir(SessionsDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && namePattern.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
