package dataset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var shardRegexp = regexp.MustCompile(`^shard-[0-9]{6,}\.tar$`)

// DiscoverShards resolves a genome's data pattern to shard paths. A glob
// pattern is expanded, a directory is walked for shard-NNNNNN.tar files and a
// plain file is returned as is.
func DiscoverShards(pattern string) ([]string, error) {
	if strings.ContainsAny(pattern, "*?[") {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("discover shards: %w", err)
		}
		entries := make([]string, 0, len(matches))
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return nil, fmt.Errorf("discover shards: %w", err)
			}
			if !info.IsDir() {
				entries = append(entries, m)
			}
		}
		sort.Strings(entries)
		return entries, nil
	}

	info, err := os.Stat(pattern)
	if err != nil {
		return nil, fmt.Errorf("discover shards: %w", err)
	}
	if !info.IsDir() {
		return []string{pattern}, nil
	}

	entries := make([]string, 0)
	err = filepath.WalkDir(pattern, func(path string, d fs.DirEntry, err error) error {
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

// DiscoverByGenome resolves each genome's pattern independently.
func DiscoverByGenome(patterns []string) ([][]string, error) {
	result := make([][]string, len(patterns))
	for gi, pattern := range patterns {
		shards, err := DiscoverShards(pattern)
		if err != nil {
			return nil, err
		}
		if len(shards) == 0 {
			return nil, fmt.Errorf("genome %d: no shards match %s", gi, pattern)
		}
		result[gi] = shards
	}
	return result, nil
}
