package ippool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileSink writes one OpenVPN client-config-dir file per common name.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) (*FileSink, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("ippool: client config directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ippool: create client config directory: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("ippool: stat client config directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ippool: %s is not a directory", dir)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) Dir() string {
	return s.dir
}

// Write replaces the file for commonName with its ifconfig-push directive.
func (s *FileSink) Write(commonName string, pair Pair) error {
	path, err := s.pathFor(commonName)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+commonName+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := fmt.Fprintf(tmp, "ifconfig-push %s\n", pair.PushDirective()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Remove deletes the file for commonName. A missing file is not an error.
func (s *FileSink) Remove(commonName string) error {
	path, err := s.pathFor(commonName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the common names that currently have a file, sorted.
func (s *FileSink) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("ippool: read client config directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileSink) pathFor(commonName string) (string, error) {
	if commonName == "" || commonName == "." || commonName == ".." ||
		strings.HasPrefix(commonName, ".") || strings.ContainsAny(commonName, `/\`) {
		return "", fmt.Errorf("ippool: common name %q cannot be used as a file name", commonName)
	}
	return filepath.Join(s.dir, commonName), nil
}
