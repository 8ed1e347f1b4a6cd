package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

var shardRegexp = regexp.MustCompile(`^shard-[0-9]{6,}\.tar$`)

// ErrNoIDXDir indicates none of the searched directories holds a full IDX set.
var ErrNoIDXDir = errors.New("dataset: no directory contains all idx files")

// DiscoverShards returns paths to shard TAR files beneath root, sorted.
func DiscoverShards(root string) ([]string, error) {
	entries := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if shardRegexp.MatchString(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover shards: %w", err)
	}
	sort.Strings(entries)
	return entries, nil
}

// FindIDXDir returns the first of dirs that contains every file in IDXFiles.
func FindIDXDir(dirs []string) (string, error) {
	var missing []string
	for _, dir := range dirs {
		complete := true
		for _, name := range IDXFiles {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err != nil {
				missing = append(missing, path)
				complete = false
				break
			}
		}
		if complete {
			return dir, nil
		}
	}
	if len(missing) == 0 {
		return "", fmt.Errorf("%w: no directories given", ErrNoIDXDir)
	}
	return "", fmt.Errorf("%w: missing %v", ErrNoIDXDir, missing)
}
