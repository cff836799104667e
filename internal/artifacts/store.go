// Package artifacts stores composed strips and videos per session on disk
// and serves them over HTTP with byte-range support.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

const (
	StripName     = "strip.jpg"
	VideoName     = "recap.mp4"
	SignatureName = "signature.png"
)

var ErrBadName = errors.New("artifacts: invalid session or file name")

var safeName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Store lays artifacts out as <dir>/<sessionID>/<name>.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

// Path validates both components and returns the on-disk location.
func (s *Store) Path(sessionID, name string) (string, error) {
	if !safeName.MatchString(sessionID) || !safeName.MatchString(name) {
		return "", ErrBadName
	}
	return filepath.Join(s.dir, sessionID, name), nil
}

// Put writes data atomically and returns the URL path it is served under.
func (s *Store) Put(sessionID, name string, data []byte) (string, error) {
	p, err := s.Path(sessionID, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+name+"-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("commit artifact: %w", err)
	}
	return URLPath(sessionID, name), nil
}

// List returns the artifact names stored for a session.
func (s *Store) List(sessionID string) ([]string, error) {
	if !safeName.MatchString(sessionID) {
		return nil, ErrBadName
	}
	entries, err := os.ReadDir(filepath.Join(s.dir, sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && safeName.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// URLPath is the HTTP path an artifact is served under.
func URLPath(sessionID, name string) string {
	return "/artifacts/" + sessionID + "/" + name
}
