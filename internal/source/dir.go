package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

type Dir struct {
	path string
}

// NewDir fails when path does not exist or is not a directory.
func NewDir(path string) (*Dir, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("data directory %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data directory %s: not a directory", path)
	}
	return &Dir{path: path}, nil
}

func (d *Dir) Location() string { return d.path }

func (d *Dir) List(ctx context.Context) ([]Input, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.path, err)
	}
	var out []Input
	for _, e := range entries {
		if e.IsDir() || !IsDataFile(e.Name()) {
			continue
		}
		full := filepath.Join(d.path, e.Name())
		out = append(out, NewInput(e.Name(), full, func(context.Context) (io.ReadCloser, error) {
			return os.Open(full)
		}))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
