// Package modelstore keeps uploaded model files in one directory.
package modelstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var ErrBadName = errors.New("invalid model file name")

type Store struct {
	Dir string
}

func New(dir string) (*Store, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("model dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

// Path returns where name is stored. Names must be plain file names.
func (s *Store) Path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return filepath.Join(s.Dir, name), nil
}

// Writer is an upload in progress. Nothing is visible under the final name
// until Commit.
type Writer struct {
	f    *os.File
	path string
	size int64
	done bool
}

func (s *Store) Create(name string) (*Writer, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(s.Dir, "."+name+".*.part")
	if err != nil {
		return nil, err
	}
	return &Writer{f: f, path: path}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *Writer) Size() int64 {
	return w.size
}

func (w *Writer) Path() string {
	return w.path
}

// Commit closes the temp file and renames it into place.
func (w *Writer) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.f.Name())
		return err
	}
	return os.Rename(w.f.Name(), w.path)
}

// Abort discards the upload. It is a no-op after Commit.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	_ = w.f.Close()
	_ = os.Remove(w.f.Name())
}

// Save stores r under name and returns the final path and size.
func (s *Store) Save(name string, r io.Reader) (string, int64, error) {
	w, err := s.Create(name)
	if err != nil {
		return "", 0, err
	}
	defer w.Abort()
	if _, err := io.Copy(w, r); err != nil {
		return "", 0, err
	}
	if err := w.Commit(); err != nil {
		return "", 0, err
	}
	return w.path, w.size, nil
}

// List returns stored model names, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// Resolve maps a bare file name onto the store when that file exists there.
// Other paths are returned unchanged.
func (s *Store) Resolve(p string) string {
	path, err := s.Path(p)
	if err != nil {
		return p
	}
	if _, err := os.Stat(path); err != nil {
		return p
	}
	return path
}
