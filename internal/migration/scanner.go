package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Scan parses every *.sql file directly inside dir. Subdirectories and other
// files are ignored. Records are returned in file name order; ordering for
// execution is the graph's business.
func Scan(dir string) ([]Record, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, NewFileSystemError(dir, "scan directory", fmt.Errorf("migration directory does not exist"))
	}
	if err != nil {
		return nil, NewFileSystemError(dir, "scan directory", err)
	}
	if !info.IsDir() {
		return nil, NewFileSystemError(dir, "scan directory", fmt.Errorf("not a directory"))
	}

	records, err := ScanFS(os.DirFS(dir), ".")
	if err != nil {
		var pErr *ParseError
		if errors.As(err, &pErr) {
			pErr.Path = filepath.Join(dir, filepath.FromSlash(pErr.Path))
		}
		return nil, err
	}
	for i := range records {
		records[i].Source = filepath.Join(dir, filepath.FromSlash(records[i].Source))
	}
	return records, nil
}

// ScanFS is Scan over an fs.FS, so migrations can be embedded in a binary.
func ScanFS(fsys fs.FS, dir string) ([]Record, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, NewFileSystemError(dir, "read directory", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	records := make([]Record, 0, len(names))
	for _, name := range names {
		p := path.Join(dir, name)
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, NewFileSystemError(p, "read file", err)
		}
		rec, err := Parse(p, string(content))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
